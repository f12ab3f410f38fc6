package whitelist

import (
	"strings"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// Checker decides whether a domain is globally trusted. Trusted domains and
// their subdomains are skipped by the URL and domain analyzer.
type Checker struct {
	domains []string
	logger  *zap.Logger
}

// NewChecker creates a new trusted domain checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalized := make([]string, 0, len(domains))
	for _, domain := range domains {
		d := strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
		if d != "" {
			normalized = append(normalized, d)
		}
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized trusted domain checker", zap.Strings("domains", normalized))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// IsTrusted checks if the domain or one of its parents is trusted
func (c *Checker) IsTrusted(domain string) bool {
	if len(c.domains) == 0 {
		return false
	}
	domain = strings.Trim(strings.ToLower(domain), ".")
	if domain == "" {
		return false
	}

	for _, trusted := range c.domains {
		if domain == trusted || strings.HasSuffix(domain, "."+trusted) {
			if c.logger != nil {
				c.logger.Debug("Domain is trusted", zap.String("domain", domain))
			}
			return true
		}
	}
	return false
}

// IsTrustedSender checks the domain of a sender address
func (c *Checker) IsTrustedSender(from string) bool {
	return c.IsTrusted(core.DomainOf(from))
}

// Domains returns the normalized trusted domains
func (c *Checker) Domains() []string {
	return append([]string(nil), c.domains...)
}
