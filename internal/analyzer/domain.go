package analyzer

import (
	"context"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
)

// URL and domain analyzer flags
const (
	FlagSuspiciousTLD    = "suspicious_tld"
	FlagURLPattern       = "url_pattern"
	FlagNewDomain        = "new_domain"
	FlagRegistrarFlagged = "registrar_flagged"
	FlagCountryFlagged   = "country_flagged"
	FlagNameserverProxy  = "ns_proxy"
)

// DefaultSuspiciousTLDs returns the TLDs commonly abused for phishing
func DefaultSuspiciousTLDs() []string {
	return []string{
		"top", "click", "win", "loan", "xyz", "gq", "ml", "cf", "tk", "ga",
		"work", "party", "review", "country", "stream", "download", "racing",
		"date", "men", "bid", "trade", "accountant", "science", "faith",
		"cricket", "zip", "mov",
	}
}

// DefaultShorteners returns well known link shortener hosts
func DefaultShorteners() []string {
	return []string{
		"bit.ly", "tinyurl.com", "t.co", "goo.gl", "ow.ly", "is.gd",
		"buff.ly", "cutt.ly", "rebrand.ly", "shorturl.at", "rb.gy", "tiny.cc",
	}
}

// DefaultProxyNameservers returns nameserver suffixes of proxying DNS providers
func DefaultProxyNameservers() []string {
	return []string{"cloudflare.com", "ddos-guard.net", "sucuri.net"}
}

// TrustChecker reports whether a domain is globally trusted
type TrustChecker interface {
	IsTrusted(domain string) bool
}

// URLConfig configures the URL and domain analyzer
type URLConfig struct {
	SuspiciousTLDs    []string
	Shorteners        []string
	MaxDomains        int
	NewDomainDays     int
	FlaggedRegistrars []string
	FlaggedCountries  []string
	ProxyNameservers  []string
}

// URLDomainAnalyzer scores links and the registration data of their domains
type URLDomainAnalyzer struct {
	tlds              map[string]bool
	shorteners        map[string]bool
	maxDomains        int
	newDomainDays     int
	flaggedRegistrars []string
	flaggedCountries  map[string]bool
	proxyNameservers  []string
	lookup            core.DomainLookupClient
	trust             TrustChecker
	logger            *zap.Logger
	now               func() time.Time
}

// NewURLDomainAnalyzer creates a URL and domain analyzer. trust may be nil.
func NewURLDomainAnalyzer(cfg URLConfig, lookup core.DomainLookupClient, trust TrustChecker, logger *zap.Logger) *URLDomainAnalyzer {
	if cfg.MaxDomains <= 0 {
		cfg.MaxDomains = 10
	}
	if cfg.NewDomainDays <= 0 {
		cfg.NewDomainDays = 30
	}
	a := &URLDomainAnalyzer{
		tlds:             toSet(cfg.SuspiciousTLDs, func(s string) string { return strings.TrimPrefix(strings.ToLower(s), ".") }),
		shorteners:       toSet(cfg.Shorteners, strings.ToLower),
		maxDomains:       cfg.MaxDomains,
		newDomainDays:    cfg.NewDomainDays,
		flaggedCountries: toSet(cfg.FlaggedCountries, strings.ToUpper),
		lookup:           lookup,
		trust:            trust,
		logger:           logger,
		now:              time.Now,
	}
	for _, r := range cfg.FlaggedRegistrars {
		a.flaggedRegistrars = append(a.flaggedRegistrars, strings.ToLower(r))
	}
	for _, ns := range cfg.ProxyNameservers {
		a.proxyNameservers = append(a.proxyNameservers, strings.ToLower(strings.TrimSuffix(ns, ".")))
	}
	return a
}

// Name implements core.Analyzer
func (a *URLDomainAnalyzer) Name() string {
	return "url_domain"
}

// Analyze implements core.Analyzer
func (a *URLDomainAnalyzer) Analyze(ctx context.Context, email *core.Email) core.AnalyzerResult {
	res := core.AnalyzerResult{}
	urls := email.URLs
	if len(urls) == 0 {
		urls = ExtractURLs(email.Body, email.HTMLBody)
	}

	suspiciousTLD := false
	patternSuspicious := false
	var domains []string
	seen := make(map[string]bool)
	addDomain := func(d string) {
		if d != "" && !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}

	for _, raw := range urls {
		u, err := parseLink(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
		if a.suspiciousPattern(u, host) {
			patternSuspicious = true
		}
		if _, err := netip.ParseAddr(host); err == nil {
			continue
		}
		registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
		if err != nil || a.isTrusted(registrable) {
			continue
		}
		if a.tlds[topLevel(host)] {
			suspiciousTLD = true
		}
		addDomain(registrable)
	}

	// The sender domain is looked up too, after the link domains
	if sender := email.SenderDomain(); sender != "" {
		if registrable, err := publicsuffix.EffectiveTLDPlusOne(sender); err == nil && !a.isTrusted(registrable) {
			addDomain(registrable)
		}
	}

	urlScore := 0
	if suspiciousTLD {
		urlScore += 20
		res.Flags = append(res.Flags, FlagSuspiciousTLD)
	}
	if patternSuspicious {
		urlScore += 15
		res.Flags = append(res.Flags, FlagURLPattern)
	}
	res.Partials.URL = min(100, urlScore)

	if len(domains) > a.maxDomains {
		a.logger.Debug("Limiting domain lookups",
			zap.String("email_id", email.ID),
			zap.Int("domains", len(domains)),
			zap.Int("max", a.maxDomains))
		domains = domains[:a.maxDomains]
	}
	if a.lookup == nil || len(domains) == 0 {
		return res
	}

	infos := a.lookupAll(ctx, email.ID, domains)
	best := -1
	var bestFlags []string
	lookupFailed := false
	for _, info := range infos {
		if !info.Known() {
			lookupFailed = true
			continue
		}
		score, flags := a.scoreDomain(info)
		if score > best {
			best = score
			bestFlags = flags
			res.DomainInfo = info
		}
	}
	if res.DomainInfo == nil {
		res.DomainInfo = infos[0]
	}
	if best > 0 {
		res.Partials.Domain = best
		res.Flags = append(res.Flags, bestFlags...)
	}
	if lookupFailed {
		res.Degraded = append(res.Degraded, "domain_lookup")
	}
	return res
}

// lookupAll resolves the domains concurrently. Failed lookups come back as
// unknown DomainInfo values, in input order.
func (a *URLDomainAnalyzer) lookupAll(ctx context.Context, emailID string, domains []string) []*core.DomainInfo {
	infos := make([]*core.DomainInfo, len(domains))
	var g errgroup.Group
	g.SetLimit(4)
	for i, d := range domains {
		g.Go(func() error {
			info, err := a.lookup.Lookup(ctx, d)
			if err != nil || info == nil {
				reason := "no data"
				if err != nil {
					reason = err.Error()
				}
				a.logger.Warn("Domain lookup failed, treating domain as unknown",
					zap.String("email_id", emailID),
					zap.String("domain", d),
					zap.String("reason", reason))
				infos[i] = &core.DomainInfo{Domain: d, LookupError: reason}
				return nil
			}
			// Lookup results are shared through the cache
			copied := *info
			copied.Nameservers = append([]string(nil), info.Nameservers...)
			infos[i] = &copied
			return nil
		})
	}
	_ = g.Wait()
	return infos
}

func (a *URLDomainAnalyzer) scoreDomain(info *core.DomainInfo) (int, []string) {
	score := 0
	var flags []string

	if age := info.AgeDays(a.now()); age >= 0 && age < a.newDomainDays {
		score += 25
		flags = append(flags, FlagNewDomain)
	}
	registrar := strings.ToLower(info.Registrar)
	for _, r := range a.flaggedRegistrars {
		if r != "" && strings.Contains(registrar, r) {
			score += 20
			flags = append(flags, FlagRegistrarFlagged)
			break
		}
	}
	if info.Country != "" && a.flaggedCountries[strings.ToUpper(info.Country)] {
		score += 15
		flags = append(flags, FlagCountryFlagged)
	}
	if a.usesProxy(info.Nameservers) {
		score += 10
		flags = append(flags, FlagNameserverProxy)
	}
	return min(100, score), flags
}

func (a *URLDomainAnalyzer) usesProxy(nameservers []string) bool {
	for _, ns := range nameservers {
		ns = strings.ToLower(strings.TrimSuffix(ns, "."))
		for _, p := range a.proxyNameservers {
			if ns == p || strings.HasSuffix(ns, "."+p) {
				return true
			}
		}
	}
	return false
}

func (a *URLDomainAnalyzer) suspiciousPattern(u *url.URL, host string) bool {
	if _, err := netip.ParseAddr(host); err == nil {
		return true
	}
	if u.User != nil {
		return true
	}
	if strings.Count(host, ".")+1 > 4 {
		return true
	}
	for _, label := range strings.Split(host, ".") {
		if strings.HasPrefix(label, "xn--") {
			return true
		}
	}
	if a.shorteners[host] || a.shorteners[strings.TrimPrefix(host, "www.")] {
		return true
	}
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		return true
	}
	return false
}

func (a *URLDomainAnalyzer) isTrusted(domain string) bool {
	return a.trust != nil && a.trust.IsTrusted(domain)
}

func topLevel(host string) string {
	if i := strings.LastIndex(host, "."); i >= 0 {
		return host[i+1:]
	}
	return host
}

func toSet(items []string, norm func(string) string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[norm(strings.TrimSpace(it))] = true
	}
	return set
}
