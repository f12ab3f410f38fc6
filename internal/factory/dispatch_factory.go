package factory

import (
	"fmt"

	"github.com/mikey/phishguard/internal/adapters/delivery"
	"github.com/mikey/phishguard/internal/adapters/templates"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/dispatch"
	"github.com/mikey/phishguard/internal/ports"
	"github.com/mikey/phishguard/internal/retry"
	"github.com/mikey/phishguard/internal/utils"
	"go.uber.org/zap"
)

// DispatchFactory creates the abuse report dispatcher and its collaborators
type DispatchFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewDispatchFactory creates a new dispatch factory
func NewDispatchFactory(cfg *config.Config, logger *zap.Logger) *DispatchFactory {
	return &DispatchFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateTemplateStore loads the template pack, or the built-in templates
// when no file is configured
func (f *DispatchFactory) CreateTemplateStore() (core.TemplateStore, error) {
	path := f.cfg.GetReport().TemplatesFile
	if path == "" {
		return templates.NewBuiltinStore(), nil
	}
	store, err := templates.LoadFile(path, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load report templates: %w", err)
	}
	return store, nil
}

// CreateSender creates the outbound relay client
func (f *DispatchFactory) CreateSender() *delivery.Sender {
	smtpCfg := f.cfg.GetSMTP()
	return delivery.NewSender(delivery.Config{
		Host:      smtpCfg.Host,
		Port:      smtpCfg.Port,
		TLSMode:   smtpCfg.TLSMode,
		TLSVerify: smtpCfg.TLSVerify,
		Username:  smtpCfg.Username,
		Password:  smtpCfg.Password,
		Timeout:   smtpCfg.Timeout,
		HeloName:  smtpCfg.HeloName,
	}, f.logger)
}

// CreateDispatcher creates the report dispatcher. Configured abuse and
// CERT addresses override the built-in ones per key. events and summarizer
// may be nil.
func (f *DispatchFactory) CreateDispatcher(
	tmpl core.TemplateStore,
	sender core.SMTPSender,
	reports core.ReportRepository,
	emails core.EmailRepository,
	events core.EventPublisher,
	summarizer ports.Summarizer,
	text *utils.TextProcessor,
) *dispatch.Dispatcher {
	reportCfg := f.cfg.GetReport()
	return dispatch.NewDispatcher(dispatch.Config{
		From:            reportCfg.From,
		DefaultLanguage: reportCfg.DefaultLanguage,
		Policy: retry.Policy{
			MaxAttempts: reportCfg.Retry.MaxAttempts,
			BaseDelay:   reportCfg.Retry.BaseDelay,
			Multiplier:  reportCfg.Retry.Multiplier,
		},
		CloudAbuse:     merge(dispatch.DefaultCloudAbuse(), reportCfg.CloudAbuse),
		CERTContacts:   merge(dispatch.DefaultCERTContacts(), reportCfg.CERTContacts),
		ExcerptSize:    reportCfg.ExcerptSize,
		SummaryTimeout: reportCfg.SummaryTimeout,
	}, tmpl, sender, reports, emails, events, summarizer, text, f.logger)
}

func merge(base, overrides map[string]string) map[string]string {
	for k, v := range overrides {
		base[k] = v
	}
	return base
}
