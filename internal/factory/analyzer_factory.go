package factory

import (
	"github.com/mikey/phishguard/internal/analyzer"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/whitelist"
	"go.uber.org/zap"
)

// AnalyzerFactory creates the analyzers run for every email
type AnalyzerFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewAnalyzerFactory creates a new analyzer factory
func NewAnalyzerFactory(cfg *config.Config, logger *zap.Logger) *AnalyzerFactory {
	return &AnalyzerFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateWhitelist creates the global trusted domain checker
func (f *AnalyzerFactory) CreateWhitelist() *whitelist.Checker {
	return whitelist.NewChecker(f.cfg.GetAnalysis().WhitelistedDomains, f.logger)
}

// CreateAnalyzers creates the header, URL/domain and content analyzers.
// Empty lists in the configuration fall back to the built-in defaults.
func (f *AnalyzerFactory) CreateAnalyzers(
	domains core.DomainLookupClient,
	geo core.GeoResolver,
	trust analyzer.TrustChecker,
) []core.Analyzer {
	analysis := f.cfg.GetAnalysis()

	header := analyzer.NewHeaderAnalyzer(analyzer.HeaderConfig{
		CloudRanges: analyzer.DefaultCloudRanges(),
		CloudASNs:   analyzer.DefaultCloudASNs(),
	}, geo, f.logger)

	urls := analyzer.NewURLDomainAnalyzer(analyzer.URLConfig{
		SuspiciousTLDs:    orDefault(analysis.SuspiciousTLDs, analyzer.DefaultSuspiciousTLDs),
		Shorteners:        orDefault(analysis.Shorteners, analyzer.DefaultShorteners),
		MaxDomains:        analysis.MaxDomains,
		NewDomainDays:     analysis.NewDomainDays,
		FlaggedRegistrars: analysis.FlaggedRegistrars,
		FlaggedCountries:  analysis.FlaggedCountries,
		ProxyNameservers:  orDefault(analysis.ProxyNameservers, analyzer.DefaultProxyNameservers),
	}, domains, trust, f.logger)

	content := analyzer.NewContentAnalyzer(analyzer.ContentConfig{
		PhishingPhrases:      orDefault(analysis.PhishingPhrases, analyzer.DefaultPhishingPhrases),
		UrgencyPhrases:       orDefault(analysis.UrgencyPhrases, analyzer.DefaultUrgencyPhrases),
		SuspiciousExtensions: analyzer.DefaultSuspiciousExtensions(),
		SuspiciousMimeTypes:  analyzer.DefaultSuspiciousMimeTypes(),
	})

	return []core.Analyzer{header, urls, content}
}

func orDefault(values []string, def func() []string) []string {
	if len(values) == 0 {
		return def()
	}
	return values
}
