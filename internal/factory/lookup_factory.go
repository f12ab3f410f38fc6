package factory

import (
	"sync"

	"github.com/mikey/phishguard/internal/adapters/dnsgeo"
	"github.com/mikey/phishguard/internal/adapters/whois"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/lookup"
	"github.com/mikey/phishguard/internal/ports"
	"go.uber.org/zap"
)

// LookupFactory creates the cached WHOIS/RDAP and DNS lookup services
type LookupFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	backing ports.CacheRepository

	mu      sync.Mutex
	stopFns []func()
}

// NewLookupFactory creates a new lookup factory. backing may be nil.
func NewLookupFactory(cfg *config.Config, logger *zap.Logger, backing ports.CacheRepository) *LookupFactory {
	return &LookupFactory{
		cfg:     cfg,
		logger:  logger,
		backing: backing,
	}
}

func (f *LookupFactory) options() lookup.Options {
	lookupCfg := f.cfg.GetLookup()
	return lookup.Options{
		TTL:             lookupCfg.TTL,
		Timeout:         lookupCfg.Timeout,
		CleanupInterval: lookupCfg.CleanupInterval,
		Backing:         f.backing,
	}
}

// CreateDomainService creates the domain lookup service. Port 43 WHOIS is
// tried first and RDAP answers when WHOIS fails.
func (f *LookupFactory) CreateDomainService() *lookup.DomainService {
	lookupCfg := f.cfg.GetLookup()
	c := lookup.NewCache[*core.DomainInfo]("domain", f.options(), f.logger)
	f.track(c.Stop)

	return lookup.NewDomainService(c, f.logger,
		lookup.NamedDomainClient{
			Name:   "whois",
			Client: whois.NewPort43Client(lookupCfg.WhoisServers, lookupCfg.Timeout, f.logger),
		},
		lookup.NamedDomainClient{
			Name:   "rdap",
			Client: whois.NewRDAPClient(lookupCfg.RDAPEndpoint, lookupCfg.Timeout, f.logger),
		},
	)
}

// CreateIPService creates the IP network lookup service
func (f *LookupFactory) CreateIPService() *lookup.IPService {
	lookupCfg := f.cfg.GetLookup()
	c := lookup.NewCache[*core.IPInfo]("ip", f.options(), f.logger)
	f.track(c.Stop)

	return lookup.NewIPService(c, dnsgeo.NewResolver(lookupCfg.DNSServers, lookupCfg.Timeout, f.logger))
}

// Stop stops the cleanup loops of every cache created by the factory
func (f *LookupFactory) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, stop := range f.stopFns {
		stop()
	}
	f.stopFns = nil
}

func (f *LookupFactory) track(stop func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopFns = append(f.stopFns, stop)
}
