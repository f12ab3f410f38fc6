package factory

import (
	"github.com/mikey/phishguard/internal/adapters/delivery"
	"github.com/mikey/phishguard/internal/adapters/intake"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/ports"
	"github.com/mikey/phishguard/internal/utils"
	"go.uber.org/zap"
)

// IntakeFactory creates the message normalizer and the SMTP intake
type IntakeFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewIntakeFactory creates a new intake factory
func NewIntakeFactory(cfg *config.Config, logger *zap.Logger) *IntakeFactory {
	return &IntakeFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateNormalizer creates the raw message normalizer
func (f *IntakeFactory) CreateNormalizer(text *utils.TextProcessor) *intake.Normalizer {
	intakeCfg := f.cfg.GetIntake()
	return intake.NewNormalizer(intake.NormalizerConfig{
		VerifyDKIM:   intakeCfg.VerifyDKIM,
		DKIMTimeout:  intakeCfg.DKIMTimeout,
		MaxBodyBytes: intakeCfg.MaxBodyBytes,
		DefaultOwner: intakeCfg.Owner,
	}, text, f.logger)
}

// CreateForwarder creates the next hop client used when the intake runs as
// a content filter. It returns nil when forwarding is disabled.
func (f *IntakeFactory) CreateForwarder() core.SMTPSender {
	fwd := f.cfg.GetIntake().Forward
	if !fwd.Enabled {
		return nil
	}
	return delivery.NewSender(delivery.Config{
		Host:    fwd.Host,
		Port:    fwd.Port,
		TLSMode: delivery.TLSNone,
	}, f.logger)
}

// CreateSMTPServer creates the SMTP intake handing messages to handler
func (f *IntakeFactory) CreateSMTPServer(normalizer *intake.Normalizer, handler ports.IntakeHandler) *intake.SMTPServer {
	intakeCfg := f.cfg.GetIntake()
	return intake.NewSMTPServer(intake.SMTPConfig{
		ListenAddr:      intakeCfg.ListenAddress,
		Domain:          intakeCfg.Domain,
		ReadTimeout:     intakeCfg.ReadTimeout,
		WriteTimeout:    intakeCfg.WriteTimeout,
		MaxMessageBytes: intakeCfg.MaxMessageBytes,
		MaxRecipients:   intakeCfg.MaxRecipients,
		OwnerID:         intakeCfg.Owner,
	}, normalizer, handler, f.CreateForwarder(), f.logger)
}
