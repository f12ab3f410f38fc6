package rules

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML document loaded from rules.seed_file
type Seed struct {
	Rules       []SeedRule       `yaml:"rules"`
	Preferences []SeedPreference `yaml:"preferences"`
}

// SeedRule is one rule in a seed file
type SeedRule struct {
	Owner      string          `yaml:"owner"`
	Name       string          `yaml:"name"`
	Priority   int             `yaml:"priority"`
	Enabled    *bool           `yaml:"enabled"`
	Conditions []SeedCondition `yaml:"conditions"`
	Actions    []core.Action   `yaml:"actions"`
}

// SeedCondition accepts either a scalar value or a list for the in operator
type SeedCondition struct {
	Field    string    `yaml:"field"`
	Operator string    `yaml:"operator"`
	Value    SeedValue `yaml:"value"`
}

// SeedValue is a scalar or a sequence of scalars, joined with commas
type SeedValue string

// UnmarshalYAML implements yaml.Unmarshaler
func (v *SeedValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = SeedValue(node.Value)
		return nil
	case yaml.SequenceNode:
		parts := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: list values must be scalars", item.Line)
			}
			parts = append(parts, item.Value)
		}
		*v = SeedValue(strings.Join(parts, ","))
		return nil
	}
	return fmt.Errorf("line %d: value must be a scalar or a list", node.Line)
}

// SeedPreference is one owner's preferences in a seed file
type SeedPreference struct {
	Owner          string   `yaml:"owner"`
	ScoreThreshold *int     `yaml:"score_threshold"`
	AutoReport     bool     `yaml:"auto_report"`
	ReportLanguage string   `yaml:"report_language"`
	BlockedSenders []string `yaml:"blocked_senders"`
	TrustedDomains []string `yaml:"trusted_domains"`
}

// LoadSeedFile reads and parses a seed file
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses a seed document
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse rule seed: %w", err)
	}
	for i, r := range seed.Rules {
		if r.Owner == "" || r.Name == "" {
			return nil, fmt.Errorf("rule %d: owner and name are required", i)
		}
	}
	return &seed, nil
}

// ToRule converts a seed entry into a rule
func (s SeedRule) ToRule(now time.Time) *core.EmailRule {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	rule := &core.EmailRule{
		OwnerID:   s.Owner,
		Name:      s.Name,
		Priority:  s.Priority,
		Enabled:   enabled,
		Actions:   s.Actions,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, c := range s.Conditions {
		rule.Conditions = append(rule.Conditions, core.Condition{
			Field:    c.Field,
			Operator: c.Operator,
			Value:    string(c.Value),
		})
	}
	return rule
}

// Apply stores the seeded rules and preferences. Rules whose owner already
// has a rule of the same name are left alone. Invalid rules are
// stored too, they are reported and skipped at evaluation time.
func (s *Seed) Apply(ctx context.Context, repo core.RuleRepository, prefs core.PreferenceStore, logger *zap.Logger) error {
	now := time.Now().UTC()
	existing := make(map[string]map[string]bool)

	for _, sr := range s.Rules {
		names, ok := existing[sr.Owner]
		if !ok {
			rules, err := repo.ListByOwner(ctx, sr.Owner)
			if err != nil {
				return fmt.Errorf("failed to list rules for %s: %w", sr.Owner, err)
			}
			names = make(map[string]bool, len(rules))
			for _, r := range rules {
				names[r.Name] = true
			}
			existing[sr.Owner] = names
		}
		if names[sr.Name] {
			continue
		}

		rule := sr.ToRule(now)
		if _, err := Compile(rule); err != nil {
			logger.Warn("Seeded rule is invalid and will be skipped during evaluation",
				zap.String("owner_id", sr.Owner),
				zap.String("rule", sr.Name),
				zap.Error(err))
		}
		if err := repo.Save(ctx, rule); err != nil {
			return fmt.Errorf("failed to store seeded rule %q: %w", sr.Name, err)
		}
		names[sr.Name] = true
		logger.Info("Seeded rule",
			zap.String("owner_id", sr.Owner),
			zap.String("rule", sr.Name),
			zap.Int64("rule_id", rule.ID))
	}

	if prefs == nil {
		return nil
	}
	for _, sp := range s.Preferences {
		p := core.DefaultPreferences(sp.Owner)
		if sp.ScoreThreshold != nil {
			p.ScoreThreshold = *sp.ScoreThreshold
		}
		p.AutoReport = sp.AutoReport
		p.ReportLanguage = sp.ReportLanguage
		p.BlockedSenders = sp.BlockedSenders
		p.TrustedDomains = sp.TrustedDomains
		if err := prefs.Save(ctx, p); err != nil {
			return fmt.Errorf("failed to store seeded preferences for %s: %w", sp.Owner, err)
		}
	}
	return nil
}
