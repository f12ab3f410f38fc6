package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phishguard/internal/adapters/httpapi"
	"github.com/mikey/phishguard/internal/adapters/intake"
	"github.com/mikey/phishguard/internal/adapters/store"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/dispatch"
	"github.com/mikey/phishguard/internal/factory"
	"github.com/mikey/phishguard/internal/logging"
	"github.com/mikey/phishguard/internal/ports"
	"github.com/mikey/phishguard/internal/rules"
	"github.com/mikey/phishguard/internal/scoring"
	"github.com/mikey/phishguard/internal/utils"
	"github.com/mikey/phishguard/internal/whitelist"
	"github.com/mikey/phishguard/internal/worker"
)

// EventSink is the configured event publisher and its release function
type EventSink struct {
	Publisher core.EventPublisher
	Close     func() error
}

// BuildContainer creates and configures the daemon's dependency injection
// container. configFile may be empty to use the search paths.
func BuildContainer(ctx context.Context, configFile string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		return config.Load(configFile)
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideCommon(ctx, container); err != nil {
		return nil, err
	}

	// Register persistent stores
	if err := container.Provide(func(f *factory.StoreFactory) (*store.Stores, error) {
		return f.CreateStores(ctx)
	}); err != nil {
		return nil, err
	}

	// Register persistent lookup tier
	if err := container.Provide(func(f *factory.CacheFactory) (factory.CacheRepository, error) {
		return f.CreateCacheRepository(ctx)
	}); err != nil {
		return nil, err
	}

	// Register event publisher
	if err := container.Provide(func(f *factory.EventsFactory) (*EventSink, error) {
		pub, closeFn, err := f.CreatePublisher(ctx)
		if err != nil {
			return nil, err
		}
		return &EventSink{Publisher: pub, Close: closeFn}, nil
	}); err != nil {
		return nil, err
	}

	// Register worker pool
	if err := container.Provide(func(cfg *config.Config, svc *core.PhishingService, logger *zap.Logger) *worker.Pool {
		w := cfg.GetWorker()
		return worker.NewPool(svc, w.Count, w.QueueSize, logger.Named("worker"))
	}); err != nil {
		return nil, err
	}

	// Register SMTP intake
	if err := container.Provide(func(f *factory.IntakeFactory, n *intake.Normalizer, pool *worker.Pool) *intake.SMTPServer {
		return f.CreateSMTPServer(n, pool.Submit)
	}); err != nil {
		return nil, err
	}

	// Register admin API
	if err := container.Provide(func(cfg *config.Config, svc *core.PhishingService, stores *store.Stores, logger *zap.Logger) *httpapi.Server {
		api := cfg.GetAPI()
		if !api.Enabled {
			return nil
		}
		return httpapi.NewServer(httpapi.Options{
			Addr:            api.ListenAddress,
			APIKey:          api.APIKey,
			ShutdownTimeout: api.ShutdownTimeout,
		}, svc, stores.Reports, logger.Named("api"))
	}); err != nil {
		return nil, err
	}

	if err := container.Provide(newDaemon); err != nil {
		return nil, err
	}

	return container, nil
}

// provideCommon registers everything shared by the daemon and the one-shot
// checker. It expects *config.Config, *zap.Logger, *store.Stores,
// factory.CacheRepository and *EventSink to be provided by the caller.
func provideCommon(ctx context.Context, container *dig.Container) error {
	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return err
	}

	// Register factories
	for _, constructor := range []any{
		factory.NewStoreFactory,
		factory.NewCacheFactory,
		factory.NewAnalyzerFactory,
		factory.NewDispatchFactory,
		factory.NewIntakeFactory,
		factory.NewEventsFactory,
		factory.NewLLMFactory,
	} {
		if err := container.Provide(constructor); err != nil {
			return err
		}
	}

	// Register lookup services on top of the persistent tier
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger, backing factory.CacheRepository) *factory.LookupFactory {
		var tier ports.CacheRepository
		if backing != nil {
			tier = backing
		}
		return factory.NewLookupFactory(cfg, logger.Named("lookup"), tier)
	}); err != nil {
		return err
	}

	// Register global whitelist
	if err := container.Provide(func(f *factory.AnalyzerFactory) *whitelist.Checker {
		return f.CreateWhitelist()
	}); err != nil {
		return err
	}

	// Register analyzers
	if err := container.Provide(func(f *factory.AnalyzerFactory, lf *factory.LookupFactory, trust *whitelist.Checker) []core.Analyzer {
		return f.CreateAnalyzers(lf.CreateDomainService(), lf.CreateIPService(), trust)
	}); err != nil {
		return err
	}

	// Register report summarizer
	if err := container.Provide(func(f *factory.LLMFactory) (ports.Summarizer, error) {
		return f.CreateSummarizer(ctx)
	}); err != nil {
		return err
	}

	// Register report dispatcher
	if err := container.Provide(func(
		f *factory.DispatchFactory,
		stores *store.Stores,
		sink *EventSink,
		summarizer ports.Summarizer,
		text *utils.TextProcessor,
	) (*dispatch.Dispatcher, error) {
		tmpl, err := f.CreateTemplateStore()
		if err != nil {
			return nil, err
		}
		return f.CreateDispatcher(tmpl, f.CreateSender(), stores.Reports, stores.Emails, sink.Publisher, summarizer, text), nil
	}); err != nil {
		return err
	}

	// Register rule engine
	if err := container.Provide(func(stores *store.Stores, d *dispatch.Dispatcher, sink *EventSink, logger *zap.Logger) *rules.Engine {
		return rules.NewEngine(stores.Rules, stores.Emails, stores.Preferences, d, sink.Publisher, logger.Named("rules"))
	}); err != nil {
		return err
	}

	// Register message normalizer
	if err := container.Provide(func(f *factory.IntakeFactory, text *utils.TextProcessor) *intake.Normalizer {
		return f.CreateNormalizer(text)
	}); err != nil {
		return err
	}

	// Register phishing service
	return container.Provide(func(
		cfg *config.Config,
		analyzers []core.Analyzer,
		stores *store.Stores,
		engine *rules.Engine,
		d *dispatch.Dispatcher,
		sink *EventSink,
		logger *zap.Logger,
	) *core.PhishingService {
		return core.NewPhishingService(
			analyzers,
			scoring.NewAggregator(scoring.DefaultWeights()),
			stores.Emails,
			stores.Reports,
			stores.Preferences,
			engine,
			d,
			sink.Publisher,
			logger,
			cfg.GetAnalysis().Timeout,
		)
	})
}
