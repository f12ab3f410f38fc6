// Package dispatch builds abuse reports for analyzed emails and delivers
// them over SMTP with retries.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"github.com/mikey/phishguard/internal/ports"
	"github.com/mikey/phishguard/internal/retry"
	"github.com/mikey/phishguard/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// Config configures the dispatcher
type Config struct {
	// From is the envelope and header sender, e.g. "PhishGuard <abuse@corp.example>"
	From            string
	DefaultLanguage string
	Policy          retry.Policy
	CloudAbuse      map[string]string
	CERTContacts    map[string]string
	ExcerptSize     int
	SummaryTimeout  time.Duration
}

// Dispatcher implements core.ReportDispatcher
type Dispatcher struct {
	cfg        Config
	resolver   *Resolver
	templates  core.TemplateStore
	sender     core.SMTPSender
	reports    core.ReportRepository
	emails     core.EmailRepository
	events     core.EventPublisher
	summarizer ports.Summarizer
	text       *utils.TextProcessor
	logger     *zap.Logger
	now        func() time.Time
}

// NewDispatcher creates a report dispatcher. events and summarizer may be nil.
func NewDispatcher(
	cfg Config,
	templates core.TemplateStore,
	sender core.SMTPSender,
	reports core.ReportRepository,
	emails core.EmailRepository,
	events core.EventPublisher,
	summarizer ports.Summarizer,
	text *utils.TextProcessor,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	if cfg.ExcerptSize <= 0 {
		cfg.ExcerptSize = 1000
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 15 * time.Second
	}
	if text == nil {
		text = utils.NewTextProcessor(logger)
	}
	return &Dispatcher{
		cfg:        cfg,
		resolver:   NewResolver(cfg.CloudAbuse, cfg.CERTContacts),
		templates:  templates,
		sender:     sender,
		reports:    reports,
		emails:     emails,
		events:     events,
		summarizer: summarizer,
		text:       text,
		logger:     logger,
		now:        time.Now,
	}
}

// Dispatch resolves recipients, renders the report and delivers one message
// per recipient. Recipients that already received a report for this email
// are skipped. The email is marked reported when at least one report was sent.
func (d *Dispatcher) Dispatch(ctx context.Context, email *core.Email, req core.DispatchRequest) ([]*core.Report, error) {
	recipients := d.resolver.Resolve(email, req)
	if len(recipients) == 0 {
		d.logger.Warn("No report recipients resolved",
			zap.String("email_id", email.ID))
		return nil, ErrNoRecipientsFor(email.ID)
	}

	existing, err := d.reports.ListByEmail(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing reports: %w", err)
	}
	alreadySent := make(map[string]bool)
	for _, r := range existing {
		if r.Status == core.ReportSent {
			alreadySent[strings.ToLower(r.RecipientEmail)] = true
		}
	}
	var pending []core.Recipient
	for _, rc := range recipients {
		if alreadySent[strings.ToLower(rc.Address)] {
			d.logger.Debug("Recipient already has a sent report",
				zap.String("email_id", email.ID),
				zap.String("recipient", rc.Address))
			continue
		}
		pending = append(pending, rc)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	tmpl, err := d.selectTemplate(req.Language)
	if err != nil {
		return nil, err
	}
	excerpt := d.text.Excerpt(email.Body, d.cfg.ExcerptSize)
	summary := d.summarize(ctx, email)

	var out []*core.Report
	var errs []error
	sent := false
	for _, rc := range pending {
		report, err := d.deliver(ctx, email, rc, tmpl, req.RuleID, excerpt, summary)
		if report == nil {
			// One recipient that cannot be reported to does not block the others
			d.logger.Error("Failed to create report",
				zap.String("email_id", email.ID),
				zap.String("recipient", rc.Address),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", rc.Address, err))
			continue
		}
		out = append(out, report)
		if report.Status == core.ReportSent {
			sent = true
		}
	}

	if sent {
		d.markReported(ctx, email)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// ErrNoRecipientsFor wraps core.ErrNoRecipients with the email id
func ErrNoRecipientsFor(emailID string) error {
	return fmt.Errorf("email %s: %w", emailID, core.ErrNoRecipients)
}

// deliver creates, sends and persists one report. A nil report means it
// could not even be created.
func (d *Dispatcher) deliver(
	ctx context.Context,
	email *core.Email,
	rc core.Recipient,
	tmpl *core.ReportTemplate,
	ruleID *int64,
	excerpt, summary string,
) (*core.Report, error) {
	now := d.now().UTC()
	report := &core.Report{
		ID:             uuid.NewString(),
		EmailID:        email.ID,
		RuleID:         ruleID,
		RecipientEmail: rc.Address,
		RecipientType:  rc.Type,
		Language:       tmpl.Language,
		Status:         core.ReportPending,
		CreatedAt:      now,
	}

	subject, body, err := render(tmpl, newReportData(email, report, excerpt, summary, now))
	if err != nil {
		return nil, err
	}
	report.Subject = subject
	report.Content = body
	if err := d.reports.Save(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	msg, err := composeMessage(d.cfg.From, rc.Address, subject, body, now)
	if err != nil {
		d.finish(ctx, report, err)
		return report, err
	}

	_, err = retry.Do(ctx, d.cfg.Policy, func(attempt int) error {
		sendErr := d.sender.Send(ctx, d.cfg.From, []string{rc.Address}, msg)
		report.RetryCount = attempt
		if sendErr != nil {
			metrics.DeliveryAttempts.WithLabelValues("failure").Inc()
			report.ErrorMessage = sendErr.Error()
			d.logger.Warn("Report delivery attempt failed",
				zap.String("report_id", report.ID),
				zap.String("recipient", rc.Address),
				zap.Int("attempt", attempt),
				zap.Bool("permanent", core.IsPermanent(sendErr)),
				zap.Error(sendErr))
		} else {
			metrics.DeliveryAttempts.WithLabelValues("success").Inc()
		}
		if saveErr := d.reports.Save(ctx, report); saveErr != nil {
			d.logger.Error("Failed to persist report attempt",
				zap.String("report_id", report.ID),
				zap.Error(saveErr))
		}
		if core.IsPermanent(sendErr) {
			return retry.Stop(sendErr)
		}
		return sendErr
	})
	d.finish(ctx, report, err)
	return report, nil
}

// finish records the final state of a report
func (d *Dispatcher) finish(ctx context.Context, report *core.Report, err error) {
	if err == nil {
		sentAt := d.now().UTC()
		report.Status = core.ReportSent
		report.SentAt = &sentAt
		report.ErrorMessage = ""
		d.logger.Info("Abuse report sent",
			zap.String("report_id", report.ID),
			zap.String("email_id", report.EmailID),
			zap.String("recipient", report.RecipientEmail),
			zap.String("recipient_type", string(report.RecipientType)),
			zap.Int("attempts", report.RetryCount))
	} else {
		report.Status = core.ReportFailed
		if report.ErrorMessage == "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			report.ErrorMessage = err.Error()
		}
		d.logger.Error("Abuse report delivery failed",
			zap.String("report_id", report.ID),
			zap.String("email_id", report.EmailID),
			zap.String("recipient", report.RecipientEmail),
			zap.Int("attempts", report.RetryCount),
			zap.Error(err))
	}
	metrics.ReportsTotal.WithLabelValues(string(report.Status)).Inc()

	// The final state must be stored even when the caller gave up
	if saveErr := d.reports.Save(context.WithoutCancel(ctx), report); saveErr != nil {
		d.logger.Error("Failed to persist report",
			zap.String("report_id", report.ID),
			zap.Error(saveErr))
	}
	if d.events != nil {
		if pubErr := d.events.Publish(ctx, core.NewReportEvent(report)); pubErr != nil {
			d.logger.Warn("Failed to publish report event", zap.Error(pubErr))
		}
	}
}

func (d *Dispatcher) markReported(ctx context.Context, email *core.Email) {
	if email.Status != core.StatusReported {
		if !email.Status.CanTransition(core.StatusReported) {
			d.logger.Debug("Email status not changed after report",
				zap.String("email_id", email.ID),
				zap.String("status", string(email.Status)))
			return
		}
		email.Status = core.StatusReported
	}
	if email.ReportedAt == nil {
		now := d.now().UTC()
		email.ReportedAt = &now
	}
	if err := d.emails.Save(context.WithoutCancel(ctx), email); err != nil {
		d.logger.Error("Failed to mark email reported",
			zap.String("email_id", email.ID),
			zap.Error(err))
	}
}

// selectTemplate finds a template for the exact language tag, then its base
// language, then the default language
func (d *Dispatcher) selectTemplate(requested string) (*core.ReportTemplate, error) {
	var candidates []string
	if requested != "" {
		tag, err := language.Parse(requested)
		if err != nil {
			d.logger.Warn("Invalid report language, using default",
				zap.String("language", requested),
				zap.Error(err))
		} else {
			candidates = append(candidates, tag.String())
			if base, conf := tag.Base(); conf != language.No && base.String() != tag.String() {
				candidates = append(candidates, base.String())
			}
		}
	}
	candidates = append(candidates, d.cfg.DefaultLanguage)

	for i, lang := range candidates {
		tmpl, err := d.templates.GetTemplate(lang)
		if err == nil {
			if i == len(candidates)-1 && len(candidates) > 1 {
				d.logger.Warn("Report template missing, falling back to default language",
					zap.String("requested", requested),
					zap.String("language", lang),
					zap.Error(core.ErrTemplateMissing))
			}
			return tmpl, nil
		}
		if !errors.Is(err, core.ErrTemplateMissing) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no template for %q or default %q: %w", requested, d.cfg.DefaultLanguage, core.ErrTemplateMissing)
}

func (d *Dispatcher) summarize(ctx context.Context, email *core.Email) string {
	if d.summarizer == nil {
		return ""
	}
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SummaryTimeout)
	defer cancel()
	summary, err := d.summarizer.Summarize(sctx, email)
	if err != nil {
		d.logger.Warn("Report summary unavailable",
			zap.String("email_id", email.ID),
			zap.Error(err))
		return ""
	}
	return strings.TrimSpace(summary)
}
