package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mikey/phishguard/internal/metrics"
	"go.uber.org/zap"
)

// PhishingService is the core service that analyzes, scores and acts on emails
type PhishingService struct {
	analyzers  []Analyzer
	scorer     Scorer
	emails     EmailRepository
	reports    ReportRepository
	prefs      PreferenceStore
	rules      RuleEvaluator
	dispatcher ReportDispatcher
	events     EventPublisher
	logger     *zap.Logger
	timeout    time.Duration
	now        func() time.Time
}

// NewPhishingService creates a new phishing analysis service. reports may be
// nil when no dispatcher is configured.
func NewPhishingService(
	analyzers []Analyzer,
	scorer Scorer,
	emails EmailRepository,
	reports ReportRepository,
	prefs PreferenceStore,
	rules RuleEvaluator,
	dispatcher ReportDispatcher,
	events EventPublisher,
	logger *zap.Logger,
	timeout time.Duration,
) *PhishingService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PhishingService{
		analyzers:  analyzers,
		scorer:     scorer,
		emails:     emails,
		reports:    reports,
		prefs:      prefs,
		rules:      rules,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Analyze runs every analyzer concurrently under the analysis deadline and
// aggregates whatever arrived in time. It does not modify the email.
func (s *PhishingService) Analyze(ctx context.Context, email *Email) *Assessment {
	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Analyzers that miss the deadline keep running against their own copy
	snapshot := email.Clone()
	results := make(chan AnalyzerResult, len(s.analyzers))
	for _, a := range s.analyzers {
		go func(a Analyzer) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Analyzer panicked",
						zap.String("analyzer", a.Name()),
						zap.Any("panic", r))
					results <- AnalyzerResult{Analyzer: a.Name(), Degraded: []string{a.Name()}}
				}
			}()
			res := a.Analyze(ctx, snapshot)
			res.Analyzer = a.Name()
			results <- res
		}(a)
	}

	received := make(map[string]AnalyzerResult, len(s.analyzers))
collect:
	for len(received) < len(s.analyzers) {
		select {
		case res := <-results:
			received[res.Analyzer] = res
		case <-ctx.Done():
			break collect
		}
	}

	assessment := &Assessment{AnalyzedAt: s.now().UTC()}
	seenFlags := make(map[string]bool)
	for _, a := range s.analyzers {
		res, ok := received[a.Name()]
		if !ok {
			s.logger.Warn("Analyzer missed the analysis deadline",
				zap.String("email_id", email.ID),
				zap.String("analyzer", a.Name()),
				zap.Error(ErrAnalysisDegraded))
			assessment.Degraded = append(assessment.Degraded, a.Name())
			metrics.AnalyzerDegraded.WithLabelValues(a.Name()).Inc()
			continue
		}
		assessment.Partials.Header += res.Partials.Header
		assessment.Partials.URL += res.Partials.URL
		assessment.Partials.Domain += res.Partials.Domain
		assessment.Partials.Attachment += res.Partials.Attachment
		assessment.Partials.Content += res.Partials.Content
		for _, f := range res.Flags {
			if !seenFlags[f] {
				seenFlags[f] = true
				assessment.Flags = append(assessment.Flags, f)
			}
		}
		if res.DomainInfo != nil {
			assessment.DomainInfo = res.DomainInfo
		}
		if res.IPInfo != nil {
			assessment.IPInfo = res.IPInfo
		}
		for _, d := range res.Degraded {
			assessment.Degraded = append(assessment.Degraded, d)
			metrics.AnalyzerDegraded.WithLabelValues(d).Inc()
		}
	}
	sort.Strings(assessment.Flags)

	assessment.Score, assessment.Level = s.scorer.Aggregate(assessment.Partials)
	metrics.AnalysisDuration.Observe(s.now().Sub(start).Seconds())
	return assessment
}

// Process analyzes a pending email, persists the result, runs the owner's
// rules and applies the auto-report preference
func (s *PhishingService) Process(ctx context.Context, email *Email) (*Assessment, error) {
	if email.Status == "" {
		email.Status = StatusPending
	}
	if email.Status != StatusPending {
		return nil, fmt.Errorf("process email %s in status %s: %w", email.ID, email.Status, ErrInvalidTransition)
	}
	if email.CreatedAt.IsZero() {
		email.CreatedAt = s.now().UTC()
	}
	if err := s.emails.Save(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to store email: %w", err)
	}

	assessment := s.Analyze(ctx, email)
	s.apply(email, assessment)
	if err := s.emails.Save(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to store analyzed email: %w", err)
	}
	metrics.EmailsAnalyzed.WithLabelValues(string(assessment.Level)).Inc()

	s.logger.Info("Email analyzed",
		zap.String("email_id", email.ID),
		zap.String("sender", email.From),
		zap.Int("score", email.Score),
		zap.String("level", string(email.RiskLevel)),
		zap.Strings("flags", email.Flags),
		zap.Strings("degraded", assessment.Degraded))
	s.publish(ctx, NewEmailAnalyzedEvent(email.ID, email.Score, email.RiskLevel))

	if s.rules != nil {
		outcomes, err := s.rules.Evaluate(ctx, email)
		assessment.Rules = outcomes
		if err != nil {
			s.logger.Error("Rule evaluation failed",
				zap.String("email_id", email.ID),
				zap.Error(err))
		}
	}

	s.autoReport(ctx, email)
	return assessment, nil
}

// Reanalyze moves an analyzed email back to pending and processes it again
func (s *PhishingService) Reanalyze(ctx context.Context, id string) (*Assessment, error) {
	email, err := s.emails.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !email.Status.CanTransition(StatusPending) {
		return nil, fmt.Errorf("reanalyze email %s in status %s: %w", id, email.Status, ErrInvalidTransition)
	}
	email.Status = StatusPending
	return s.Process(ctx, email)
}

// Report dispatches abuse reports for a stored email on demand
func (s *PhishingService) Report(ctx context.Context, id string, req DispatchRequest) ([]*Report, error) {
	email, err := s.emails.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if email.Status == StatusPending || email.Status == StatusDeleted {
		return nil, fmt.Errorf("report email %s in status %s: %w", id, email.Status, ErrInvalidTransition)
	}
	if s.dispatcher == nil {
		return nil, errors.New("report dispatcher not configured")
	}
	if req.Language == "" {
		req.Language = s.preferences(ctx, email.OwnerID).ReportLanguage
	}
	return s.dispatcher.Dispatch(ctx, email, req)
}

// Email returns a stored email
func (s *PhishingService) Email(ctx context.Context, id string) (*Email, error) {
	return s.emails.Get(ctx, id)
}

func (s *PhishingService) apply(email *Email, a *Assessment) {
	analyzedAt := a.AnalyzedAt
	email.Score = a.Score
	email.RiskLevel = a.Level
	email.Flags = a.Flags
	email.DomainInfo = a.DomainInfo
	email.IPInfo = a.IPInfo
	email.Status = StatusAnalyzed
	email.AnalyzedAt = &analyzedAt
}

// autoReport dispatches reports when the owner opted in and the score
// reaches their threshold. Rules may already have reported or removed the
// email. An email that already has reports, sent or failed, is left alone:
// failed deliveries are only retried by a manual report.
func (s *PhishingService) autoReport(ctx context.Context, email *Email) {
	if s.dispatcher == nil {
		return
	}
	if email.Status != StatusAnalyzed && email.Status != StatusFlagged {
		return
	}
	prefs := s.preferences(ctx, email.OwnerID)
	if !prefs.AutoReport || email.Score < prefs.ScoreThreshold {
		return
	}
	if prefs.IsTrusted(email.SenderDomain()) {
		s.logger.Debug("Skipping auto report for trusted domain",
			zap.String("email_id", email.ID),
			zap.String("domain", email.SenderDomain()))
		return
	}
	if s.reports != nil {
		existing, err := s.reports.ListByEmail(ctx, email.ID)
		if err != nil {
			s.logger.Error("Failed to list reports, skipping auto report",
				zap.String("email_id", email.ID),
				zap.Error(err))
			return
		}
		if len(existing) > 0 {
			s.logger.Debug("Email already has reports, skipping auto report",
				zap.String("email_id", email.ID),
				zap.Int("reports", len(existing)))
			return
		}
	}

	s.logger.Info("Score above owner threshold, dispatching reports",
		zap.String("email_id", email.ID),
		zap.Int("score", email.Score),
		zap.Int("threshold", prefs.ScoreThreshold))
	if _, err := s.dispatcher.Dispatch(ctx, email, DispatchRequest{Language: prefs.ReportLanguage}); err != nil {
		s.logger.Error("Auto report failed",
			zap.String("email_id", email.ID),
			zap.Error(err))
	}
}

func (s *PhishingService) preferences(ctx context.Context, ownerID string) *UserPreferences {
	if s.prefs == nil {
		return DefaultPreferences(ownerID)
	}
	prefs, err := s.prefs.Get(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Failed to load preferences, using defaults",
				zap.String("owner_id", ownerID),
				zap.Error(err))
		}
		return DefaultPreferences(ownerID)
	}
	return prefs
}

func (s *PhishingService) publish(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("type", event.Type),
			zap.Error(err))
	}
}
