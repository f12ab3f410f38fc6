package di

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phishguard/internal/adapters/httpapi"
	"github.com/mikey/phishguard/internal/adapters/intake"
	"github.com/mikey/phishguard/internal/adapters/store"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/factory"
	"github.com/mikey/phishguard/internal/ports"
	"github.com/mikey/phishguard/internal/rules"
	"github.com/mikey/phishguard/internal/worker"
)

// Daemon owns the long running components and their shutdown order
type Daemon struct {
	cfg        *config.Config
	logger     *zap.Logger
	stores     *store.Stores
	pool       *worker.Pool
	intake     ports.EmailIntake
	api        *httpapi.Server
	lookups    *factory.LookupFactory
	cache      factory.CacheRepository
	events     *EventSink
	summarizer ports.Summarizer
}

type daemonParams struct {
	dig.In

	Config     *config.Config
	Logger     *zap.Logger
	Stores     *store.Stores
	Pool       *worker.Pool
	Intake     *intake.SMTPServer
	API        *httpapi.Server
	Lookups    *factory.LookupFactory
	Cache      factory.CacheRepository
	Events     *EventSink
	Summarizer ports.Summarizer
}

func newDaemon(p daemonParams) *Daemon {
	return &Daemon{
		cfg:        p.Config,
		logger:     p.Logger,
		stores:     p.Stores,
		pool:       p.Pool,
		intake:     p.Intake,
		api:        p.API,
		lookups:    p.Lookups,
		cache:      p.Cache,
		events:     p.Events,
		summarizer: p.Summarizer,
	}
}

// Start seeds rules and starts the worker pool, the SMTP intake and the
// admin API
func (d *Daemon) Start(ctx context.Context) error {
	if path := d.cfg.GetRules().SeedFile; path != "" {
		seed, err := rules.LoadSeedFile(path)
		if err != nil {
			return fmt.Errorf("failed to load rule seed: %w", err)
		}
		if err := seed.Apply(ctx, d.stores.Rules, d.stores.Preferences, d.logger); err != nil {
			return fmt.Errorf("failed to apply rule seed: %w", err)
		}
	}

	d.pool.Start()

	if err := d.intake.Start(); err != nil {
		return fmt.Errorf("failed to start SMTP intake: %w", err)
	}

	if d.api != nil {
		go func() {
			if err := d.api.Start(); err != nil {
				d.logger.Error("Admin API stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// Stop shuts down intake first so no new work arrives, then drains the
// pool and releases storage
func (d *Daemon) Stop(ctx context.Context) error {
	var errs []error

	if err := d.intake.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop intake: %w", err))
	}
	if d.api != nil {
		if err := d.api.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop api: %w", err))
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, d.cfg.GetWorker().ShutdownTimeout)
	defer cancel()
	if err := d.pool.Stop(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain worker pool: %w", err))
	}

	d.lookups.Stop()
	if d.cache != nil {
		d.cache.Stop()
	}
	if closer, ok := d.summarizer.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close summarizer: %w", err))
		}
	}
	if err := d.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close events: %w", err))
	}
	if err := d.stores.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stores: %w", err))
	}
	return errors.Join(errs...)
}
