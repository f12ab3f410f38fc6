package analyzer

import (
	"context"
	"net/netip"
	"regexp"
	"strings"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// AuthResult is a normalized SPF/DKIM/DMARC verdict
type AuthResult string

const (
	AuthPass    AuthResult = "pass"
	AuthFail    AuthResult = "fail"
	AuthNeutral AuthResult = "neutral"
	AuthNone    AuthResult = "none"
)

// DKIMResultHeader is written by the intake when it verifies DKIM itself
const DKIMResultHeader = "X-Phishguard-Dkim"

// Header analyzer flags
const (
	FlagSPFFail   = "spf_fail"
	FlagDKIMFail  = "dkim_fail"
	FlagDMARCFail = "dmarc_fail"
	FlagCloudIP   = "cloud_ip"
)

// HeaderConfig configures cloud classification of the originating IP
type HeaderConfig struct {
	// CloudRanges maps provider name to CIDR ranges
	CloudRanges map[string][]string
	// CloudASNs maps origin ASN to provider name
	CloudASNs map[int]string
}

// DefaultCloudRanges returns a representative set of hosting provider ranges
func DefaultCloudRanges() map[string][]string {
	return map[string][]string{
		"aws":          {"3.0.0.0/9", "13.32.0.0/12", "18.128.0.0/9", "52.0.0.0/10", "54.64.0.0/11"},
		"gcp":          {"34.64.0.0/10", "35.184.0.0/13", "35.192.0.0/12"},
		"azure":        {"20.0.0.0/11", "40.64.0.0/10", "52.224.0.0/11"},
		"digitalocean": {"104.131.0.0/16", "138.197.0.0/16", "159.65.0.0/16", "167.99.0.0/16", "2604:a880::/32"},
		"ovh":          {"51.68.0.0/16", "137.74.0.0/16", "145.239.0.0/16"},
		"linode":       {"45.33.0.0/17", "172.104.0.0/15", "139.162.0.0/16"},
		"hetzner":      {"5.9.0.0/16", "88.198.0.0/16", "116.202.0.0/15", "2a01:4f8::/32"},
		"oracle":       {"129.146.0.0/16", "132.145.0.0/16", "150.136.0.0/16"},
	}
}

// DefaultCloudASNs returns the origin ASNs of common hosting providers
func DefaultCloudASNs() map[int]string {
	return map[int]string{
		16509:  "aws",
		14618:  "aws",
		15169:  "gcp",
		396982: "gcp",
		8075:   "azure",
		14061:  "digitalocean",
		16276:  "ovh",
		63949:  "linode",
		24940:  "hetzner",
		31898:  "oracle",
	}
}

type cloudRange struct {
	provider string
	prefix   netip.Prefix
}

// HeaderAnalyzer scores authentication results and the originating IP
type HeaderAnalyzer struct {
	ranges []cloudRange
	asns   map[int]string
	geo    core.GeoResolver
	logger *zap.Logger
}

// NewHeaderAnalyzer creates a header analyzer. geo may be nil, in which case
// cloud classification uses the configured ranges only.
func NewHeaderAnalyzer(cfg HeaderConfig, geo core.GeoResolver, logger *zap.Logger) *HeaderAnalyzer {
	a := &HeaderAnalyzer{
		asns:   cfg.CloudASNs,
		geo:    geo,
		logger: logger,
	}
	for provider, cidrs := range cfg.CloudRanges {
		for _, cidr := range cidrs {
			p, err := netip.ParsePrefix(cidr)
			if err != nil {
				logger.Warn("Ignoring invalid cloud range",
					zap.String("provider", provider),
					zap.String("cidr", cidr),
					zap.Error(err))
				continue
			}
			a.ranges = append(a.ranges, cloudRange{provider: provider, prefix: p.Masked()})
		}
	}
	return a
}

// Name implements core.Analyzer
func (a *HeaderAnalyzer) Name() string {
	return "header"
}

// Analyze implements core.Analyzer
func (a *HeaderAnalyzer) Analyze(ctx context.Context, email *core.Email) core.AnalyzerResult {
	res := core.AnalyzerResult{}
	auth := ParseAuthResults(email)

	score := 0
	if auth.SPF == AuthFail {
		score += 30
		res.Flags = append(res.Flags, FlagSPFFail)
	}
	if auth.DKIM == AuthFail {
		score += 25
		res.Flags = append(res.Flags, FlagDKIMFail)
	}
	if auth.DMARC == AuthFail {
		score += 35
		res.Flags = append(res.Flags, FlagDMARCFail)
	}

	if ip, ok := OriginatingIP(email.Header("Received")); ok {
		info, degraded := a.classify(ctx, ip)
		res.IPInfo = info
		if degraded {
			res.Degraded = append(res.Degraded, "ip_lookup")
		}
		if info.IsCloudProvider {
			score += 15
			res.Flags = append(res.Flags, FlagCloudIP)
		}
	}

	res.Partials.Header = min(100, score)
	return res
}

func (a *HeaderAnalyzer) classify(ctx context.Context, ip netip.Addr) (*core.IPInfo, bool) {
	info := &core.IPInfo{IP: ip.String()}
	degraded := false

	if a.geo != nil {
		resolved, err := a.geo.Resolve(ctx, ip.String())
		if err != nil {
			a.logger.Debug("IP lookup failed, using range classification",
				zap.String("ip", ip.String()),
				zap.Error(err))
			degraded = true
		} else if resolved != nil {
			// resolved is shared through the cache
			copied := *resolved
			info = &copied
			info.IP = ip.String()
		}
	}

	if provider, ok := a.asns[info.ASN]; ok && info.ASN != 0 {
		info.IsCloudProvider = true
		info.Provider = provider
	}
	if !info.IsCloudProvider {
		for _, r := range a.ranges {
			if r.prefix.Contains(ip) {
				info.IsCloudProvider = true
				info.Provider = r.provider
				break
			}
		}
	}
	return info, degraded
}

// AuthResults are the parsed SPF, DKIM and DMARC verdicts
type AuthResults struct {
	SPF   AuthResult
	DKIM  AuthResult
	DMARC AuthResult
}

// ParseAuthResults reads the verdicts from Authentication-Results, then
// ARC-Authentication-Results, then Received-SPF and the intake DKIM header.
// Missing or malformed headers yield none.
func ParseAuthResults(email *core.Email) AuthResults {
	var spf, dkim, dmarc AuthResult

	for _, name := range []string{"Authentication-Results", "ARC-Authentication-Results"} {
		for _, value := range email.Header(name) {
			for _, part := range strings.Split(value, ";") {
				method, result, ok := parseClause(part)
				if !ok {
					continue
				}
				switch method {
				case "spf":
					if spf == "" {
						spf = result
					}
				case "dkim":
					if dkim == "" {
						dkim = result
					}
				case "dmarc":
					if dmarc == "" {
						dmarc = result
					}
				}
			}
		}
	}

	if spf == "" {
		for _, value := range email.Header("Received-SPF") {
			fields := strings.Fields(value)
			if len(fields) > 0 {
				spf = normalizeResult(fields[0])
				break
			}
		}
	}
	if dkim == "" {
		for _, value := range email.Header(DKIMResultHeader) {
			if v := strings.TrimSpace(value); v != "" {
				dkim = normalizeResult(v)
				break
			}
		}
	}

	if spf == "" {
		spf = AuthNone
	}
	if dkim == "" {
		dkim = AuthNone
	}
	if dmarc == "" {
		dmarc = AuthNone
		// Without a DMARC verdict, an aligned pass is impossible when both fail
		if spf == AuthFail && dkim == AuthFail {
			dmarc = AuthFail
		}
	}
	return AuthResults{SPF: spf, DKIM: dkim, DMARC: dmarc}
}

// parseClause parses "spf=fail (reason) smtp.mailfrom=..." into its method and result
func parseClause(part string) (string, AuthResult, bool) {
	part = strings.TrimSpace(part)
	eq := strings.Index(part, "=")
	if eq <= 0 {
		return "", "", false
	}
	method := strings.ToLower(strings.TrimSpace(part[:eq]))
	if method != "spf" && method != "dkim" && method != "dmarc" {
		return "", "", false
	}
	rest := strings.TrimSpace(part[eq+1:])
	end := strings.IndexAny(rest, " \t\r\n(")
	if end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return "", "", false
	}
	return method, normalizeResult(rest), true
}

func normalizeResult(v string) AuthResult {
	switch strings.ToLower(strings.Trim(v, " \t;:")) {
	case "pass":
		return AuthPass
	case "fail", "hardfail":
		return AuthFail
	case "softfail", "neutral", "policy":
		return AuthNeutral
	default:
		return AuthNone
	}
}

var (
	bracketIPRe = regexp.MustCompile(`\[(?:IPv6:)?([0-9A-Fa-f:.]+)\]`)
	bareIPv4Re  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	byClauseRe  = regexp.MustCompile(`(?i)\sby\s`)
)

// OriginatingIP returns the public IP from the oldest Received header that
// carries one. Received headers are ordered newest first.
func OriginatingIP(received []string) (netip.Addr, bool) {
	for i := len(received) - 1; i >= 0; i-- {
		line := received[i]
		// Only the "from" clause names the sending host
		if loc := byClauseRe.FindStringIndex(line); loc != nil {
			line = line[:loc[0]]
		}
		var candidates []string
		for _, m := range bracketIPRe.FindAllStringSubmatch(line, -1) {
			candidates = append(candidates, m[1])
		}
		candidates = append(candidates, bareIPv4Re.FindAllString(line, -1)...)
		for _, c := range candidates {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				continue
			}
			if isPublic(addr) {
				return addr.Unmap(), true
			}
		}
	}
	return netip.Addr{}, false
}

func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		addr.IsGlobalUnicast() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!isSharedAddressSpace(addr)
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

func isSharedAddressSpace(addr netip.Addr) bool {
	return addr.Is4() && cgnat.Contains(addr)
}
