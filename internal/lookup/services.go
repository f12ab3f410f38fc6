package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"go.uber.org/zap"
)

// NamedDomainClient is a domain client with a source label for logs and metrics
type NamedDomainClient struct {
	Name   string
	Client core.DomainLookupClient
}

// DomainService resolves domain registration data through the cache,
// trying each source in order until one succeeds. Each source gets an even
// share of the time left in the lookup, so a hanging source still leaves
// the next one time to answer.
type DomainService struct {
	cache   *Cache[*core.DomainInfo]
	sources []NamedDomainClient
	logger  *zap.Logger
}

// NewDomainService creates a cached domain lookup service
func NewDomainService(cache *Cache[*core.DomainInfo], logger *zap.Logger, sources ...NamedDomainClient) *DomainService {
	return &DomainService{cache: cache, sources: sources, logger: logger}
}

// Lookup implements core.DomainLookupClient. The returned value is shared
// between callers and must not be modified.
func (s *DomainService) Lookup(ctx context.Context, domain string) (*core.DomainInfo, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	return s.cache.Get(ctx, "domain:"+domain, func(ctx context.Context) (*core.DomainInfo, error) {
		var errs []error
		for i, src := range s.sources {
			sctx, cancel := sourceContext(ctx, len(s.sources)-i)
			info, err := src.Client.Lookup(sctx, domain)
			timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded)
			cancel()
			if err == nil {
				return info, nil
			}
			if timedOut && !errors.Is(err, core.ErrLookupTimeout) {
				err = fmt.Errorf("%w: %w", core.ErrLookupTimeout, err)
			}
			metrics.LookupErrors.WithLabelValues(src.Name).Inc()
			s.logger.Debug("Domain lookup source failed",
				zap.String("domain", domain),
				zap.String("source", src.Name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			if ctx.Err() != nil {
				break
			}
		}
		if len(errs) == 0 {
			return nil, errors.New("no domain lookup sources configured")
		}
		return nil, errors.Join(errs...)
	})
}

// sourceContext bounds one source to its share of the remaining deadline
func sourceContext(ctx context.Context, remaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || remaining <= 1 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Until(deadline)/time.Duration(remaining))
}

// IPService resolves IP network data through the cache
type IPService struct {
	cache    *Cache[*core.IPInfo]
	resolver core.GeoResolver
}

// NewIPService creates a cached IP lookup service
func NewIPService(cache *Cache[*core.IPInfo], resolver core.GeoResolver) *IPService {
	return &IPService{cache: cache, resolver: resolver}
}

// Resolve implements core.GeoResolver
func (s *IPService) Resolve(ctx context.Context, ip string) (*core.IPInfo, error) {
	return s.cache.Get(ctx, "ip:"+ip, func(ctx context.Context) (*core.IPInfo, error) {
		info, err := s.resolver.Resolve(ctx, ip)
		if err != nil {
			metrics.LookupErrors.WithLabelValues("dns").Inc()
		}
		return info, err
	})
}
