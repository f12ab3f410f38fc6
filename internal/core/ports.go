package core

import (
	"context"
)

// Analyzer produces part of the risk breakdown for an email
type Analyzer interface {
	// Name identifies the analyzer in logs and the degraded list
	Name() string

	// Analyze inspects the email. Implementations never return partial
	// failures as errors, they fold them into the result instead.
	Analyze(ctx context.Context, email *Email) AnalyzerResult
}

// AnalyzerResult is one analyzer's contribution
type AnalyzerResult struct {
	Analyzer   string
	Partials   PartialScores
	Flags      []string
	DomainInfo *DomainInfo
	IPInfo     *IPInfo
	// Degraded names sub-checks that fell back to zero
	Degraded []string
}

// Scorer folds the partial scores into a final score and level
type Scorer interface {
	Aggregate(p PartialScores) (int, RiskLevel)
}

// DomainLookupClient resolves registration data for a domain
type DomainLookupClient interface {
	Lookup(ctx context.Context, domain string) (*DomainInfo, error)
}

// GeoResolver resolves network data for an IP address
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (*IPInfo, error)
}

// SMTPSender delivers a fully composed message
type SMTPSender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// ReportTemplate is a localized abuse report template
type ReportTemplate struct {
	Language string
	Subject  string
	Body     string
}

// TemplateStore returns report templates by language
type TemplateStore interface {
	// GetTemplate returns ErrTemplateMissing when the language has no template
	GetTemplate(language string) (*ReportTemplate, error)

	// Languages lists the languages that have a template
	Languages() []string
}

// PreferenceStore persists per-owner preferences
type PreferenceStore interface {
	// Get returns ErrNotFound when the owner has no stored preferences
	Get(ctx context.Context, ownerID string) (*UserPreferences, error)
	Save(ctx context.Context, prefs *UserPreferences) error
	BlockSender(ctx context.Context, ownerID, sender string) error
	TrustDomain(ctx context.Context, ownerID, domain string) error
}

// EmailRepository persists email records
type EmailRepository interface {
	Save(ctx context.Context, email *Email) error
	// Get returns ErrNotFound for unknown ids
	Get(ctx context.Context, id string) (*Email, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Email, error)
}

// RuleRepository persists automation rules and the match ledger
type RuleRepository interface {
	// Save inserts the rule when ID is zero and assigns one, otherwise updates it
	Save(ctx context.Context, rule *EmailRule) error
	Get(ctx context.Context, id int64) (*EmailRule, error)
	ListEnabled(ctx context.Context, ownerID string) ([]*EmailRule, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*EmailRule, error)
	// IncrementMatchCount atomically adds one to matched_count
	IncrementMatchCount(ctx context.Context, ruleID int64) error
	// RecordMatch stores the (rule, email) pair and reports whether it was new
	RecordMatch(ctx context.Context, ruleID int64, emailID string) (bool, error)
}

// ReportRepository persists abuse reports
type ReportRepository interface {
	Save(ctx context.Context, report *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	ListByEmail(ctx context.Context, emailID string) ([]*Report, error)
}

// EventPublisher emits structured events to external collaborators
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// RuleEvaluator runs the owner's rules against an analyzed email
type RuleEvaluator interface {
	Evaluate(ctx context.Context, email *Email) ([]RuleOutcome, error)
}

// RuleOutcome records what happened when a rule matched
type RuleOutcome struct {
	RuleID   int64
	RuleName string
	Actions  []string
	Failed   []string
	Halted   bool
}

// ReportDispatcher builds and delivers abuse reports for an email
type ReportDispatcher interface {
	Dispatch(ctx context.Context, email *Email, req DispatchRequest) ([]*Report, error)
}
