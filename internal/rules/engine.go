// Package rules evaluates user-defined condition/action rules against
// analyzed emails.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"go.uber.org/zap"
)

type cachedRule struct {
	updatedAt time.Time
	compiled  *compiledRule
	err       error
}

// Engine implements core.RuleEvaluator
type Engine struct {
	rules      core.RuleRepository
	emails     core.EmailRepository
	prefs      core.PreferenceStore
	dispatcher core.ReportDispatcher
	events     core.EventPublisher
	logger     *zap.Logger

	mu       sync.Mutex
	compiled map[int64]cachedRule
}

// NewEngine creates a rule engine. dispatcher and events may be nil.
func NewEngine(
	rules core.RuleRepository,
	emails core.EmailRepository,
	prefs core.PreferenceStore,
	dispatcher core.ReportDispatcher,
	events core.EventPublisher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		rules:      rules,
		emails:     emails,
		prefs:      prefs,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger,
		compiled:   make(map[int64]cachedRule),
	}
}

// Order sorts rules by priority descending, ties broken by id ascending
func Order(rules []*core.EmailRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// Evaluate runs the owner's enabled rules in order. Each rule fires at most
// once per email; a delete action stops evaluation.
func (e *Engine) Evaluate(ctx context.Context, email *core.Email) ([]core.RuleOutcome, error) {
	rules, err := e.rules.ListEnabled(ctx, email.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	Order(rules)

	ev := &evaluation{engine: e, email: email}
	var outcomes []core.RuleOutcome
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if email.Status == core.StatusDeleted {
			break
		}

		cr, err := e.compile(rule)
		if err != nil {
			metrics.RuleErrors.WithLabelValues("validation").Inc()
			e.logger.Warn("Skipping invalid rule",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule", rule.Name),
				zap.Error(err))
			continue
		}

		if !cr.matches(ev.facts(ctx, cr.needsPreferences())) {
			continue
		}

		first, err := e.rules.RecordMatch(ctx, rule.ID, email.ID)
		if err != nil {
			metrics.RuleErrors.WithLabelValues("ledger").Inc()
			e.logger.Error("Failed to record rule match, skipping rule",
				zap.Int64("rule_id", rule.ID),
				zap.String("email_id", email.ID),
				zap.Error(err))
			continue
		}
		if !first {
			e.logger.Debug("Rule already applied to email",
				zap.Int64("rule_id", rule.ID),
				zap.String("email_id", email.ID))
			continue
		}
		if err := e.rules.IncrementMatchCount(ctx, rule.ID); err != nil {
			e.logger.Error("Failed to increment rule match count",
				zap.Int64("rule_id", rule.ID),
				zap.Error(err))
		}
		metrics.RuleMatches.Inc()

		outcome := ev.execute(ctx, rule, cr)
		outcomes = append(outcomes, outcome)

		e.logger.Info("Rule matched",
			zap.Int64("rule_id", rule.ID),
			zap.String("rule", rule.Name),
			zap.String("email_id", email.ID),
			zap.Strings("actions", outcome.Actions),
			zap.Strings("failed", outcome.Failed))
		if e.events != nil {
			if err := e.events.Publish(ctx, core.NewRuleMatchedEvent(rule.ID, email.ID, outcome.Actions)); err != nil {
				e.logger.Warn("Failed to publish rule event", zap.Error(err))
			}
		}

		if outcome.Halted {
			break
		}
	}
	return outcomes, nil
}

// compile returns the cached compiled form, recompiling when the rule changed
func (e *Engine) compile(rule *core.EmailRule) (*compiledRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.compiled[rule.ID]; ok && c.updatedAt.Equal(rule.UpdatedAt) && rule.ID != 0 {
		return c.compiled, c.err
	}
	cr, err := Compile(rule)
	e.compiled[rule.ID] = cachedRule{updatedAt: rule.UpdatedAt, compiled: cr, err: err}
	return cr, err
}

// evaluation holds the per-email state of one Evaluate call
type evaluation struct {
	engine *Engine
	email  *core.Email
	prefs  *core.UserPreferences
}

func (ev *evaluation) preferences(ctx context.Context) *core.UserPreferences {
	if ev.prefs != nil {
		return ev.prefs
	}
	ev.prefs = core.DefaultPreferences(ev.email.OwnerID)
	if ev.engine.prefs == nil {
		return ev.prefs
	}
	p, err := ev.engine.prefs.Get(ctx, ev.email.OwnerID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			ev.engine.logger.Warn("Failed to load preferences for rules",
				zap.String("owner_id", ev.email.OwnerID),
				zap.Error(err))
		}
		return ev.prefs
	}
	ev.prefs = p
	return ev.prefs
}

// facts are rebuilt per rule since earlier actions may change the email
func (ev *evaluation) facts(ctx context.Context, withPrefs bool) facts {
	e := ev.email
	f := facts{
		strings: map[core.Field]string{
			core.FieldSender:    core.ExtractAddress(e.From),
			core.FieldSubject:   e.Subject,
			core.FieldDomain:    e.SenderDomain(),
			core.FieldStatus:    string(e.Status),
			core.FieldBody:      e.Body,
			core.FieldRiskLevel: string(e.RiskLevel),
		},
		numbers: map[core.Field]float64{
			core.FieldScore:           float64(e.Score),
			core.FieldURLCount:        float64(len(e.URLs)),
			core.FieldAttachmentCount: float64(len(e.Attachments)),
		},
	}
	for field, n := range f.numbers {
		f.strings[field] = strconv.FormatFloat(n, 'f', -1, 64)
	}
	if withPrefs {
		p := ev.preferences(ctx)
		f.strings[core.FieldSenderBlocked] = strconv.FormatBool(p.IsBlocked(e.From))
		f.strings[core.FieldDomainTrusted] = strconv.FormatBool(p.IsTrusted(e.SenderDomain()))
	}
	return f
}

// execute runs the rule's actions in order. Failures are logged and the
// remaining actions still run, except after a delete.
func (ev *evaluation) execute(ctx context.Context, rule *core.EmailRule, cr *compiledRule) core.RuleOutcome {
	outcome := core.RuleOutcome{RuleID: rule.ID, RuleName: rule.Name}
	for _, act := range cr.actions {
		outcome.Actions = append(outcome.Actions, string(act.typ))
		if err := ev.run(ctx, rule, act); err != nil {
			metrics.RuleErrors.WithLabelValues("action").Inc()
			ev.engine.logger.Warn("Rule action failed",
				zap.Int64("rule_id", rule.ID),
				zap.String("email_id", ev.email.ID),
				zap.String("action", string(act.typ)),
				zap.Error(err))
			outcome.Failed = append(outcome.Failed, string(act.typ))
			continue
		}
		if act.typ == core.ActionDelete {
			outcome.Halted = true
			break
		}
	}
	return outcome
}

func (ev *evaluation) run(ctx context.Context, rule *core.EmailRule, act action) error {
	e := ev.email
	eng := ev.engine

	switch act.typ {
	case core.ActionMarkStatus:
		if err := ev.transition(act.status); err != nil {
			return err
		}
		return eng.emails.Save(ctx, e)

	case core.ActionFlagForReview:
		e.Flagged = true
		if e.Status != core.StatusFlagged && e.Status.CanTransition(core.StatusFlagged) {
			e.Status = core.StatusFlagged
		}
		return eng.emails.Save(ctx, e)

	case core.ActionDelete:
		if err := ev.transition(core.StatusDeleted); err != nil {
			return err
		}
		return eng.emails.Save(ctx, e)

	case core.ActionAddLabel:
		if e.HasLabel(act.label) {
			return nil
		}
		e.Labels = append(e.Labels, act.label)
		return eng.emails.Save(ctx, e)

	case core.ActionBlockSender:
		if eng.prefs == nil {
			return errors.New("preference store not configured")
		}
		sender := core.ExtractAddress(e.From)
		if sender == "" {
			return errors.New("email has no sender")
		}
		if err := eng.prefs.BlockSender(ctx, e.OwnerID, sender); err != nil {
			return err
		}
		ev.prefs = nil
		return nil

	case core.ActionTrustDomain:
		if eng.prefs == nil {
			return errors.New("preference store not configured")
		}
		domain := act.domain
		if domain == "" {
			domain = e.SenderDomain()
		}
		if domain == "" {
			return errors.New("email has no sender domain")
		}
		if err := eng.prefs.TrustDomain(ctx, e.OwnerID, domain); err != nil {
			return err
		}
		ev.prefs = nil
		return nil

	case core.ActionAutoReport:
		if eng.dispatcher == nil {
			return errors.New("report dispatcher not configured")
		}
		lang := act.language
		if lang == "" {
			lang = ev.preferences(ctx).ReportLanguage
		}
		ruleID := rule.ID
		_, err := eng.dispatcher.Dispatch(ctx, e, core.DispatchRequest{
			Language: lang,
			Types:    act.types,
			Custom:   act.custom,
			RuleID:   &ruleID,
		})
		return err
	}
	return fmt.Errorf("unsupported action %s", act.typ)
}

func (ev *evaluation) transition(next core.EmailStatus) error {
	e := ev.email
	if !e.Status.CanTransition(next) {
		return fmt.Errorf("%s -> %s: %w", e.Status, next, core.ErrInvalidTransition)
	}
	// Reanalysis is not a rule action
	if next == core.StatusPending && e.Status != core.StatusPending {
		return fmt.Errorf("%s -> %s: %w", e.Status, next, core.ErrInvalidTransition)
	}
	if next == core.StatusReported && e.ReportedAt == nil {
		now := time.Now().UTC()
		e.ReportedAt = &now
	}
	if next == core.StatusFlagged {
		e.Flagged = true
	}
	e.Status = next
	return nil
}
