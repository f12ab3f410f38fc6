// Package dnsgeo maps IP addresses to their origin AS and country using the
// Team Cymru IP-to-ASN DNS service.
package dnsgeo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

const (
	originZone  = "origin.asn.cymru.com."
	origin6Zone = "origin6.asn.cymru.com."
	asnZone     = "asn.cymru.com."
)

// DefaultServers are used when no resolver is configured
var DefaultServers = []string{"1.1.1.1:53", "8.8.8.8:53"}

// ErrNoData is returned when the service has no record for the address
var ErrNoData = errors.New("no ASN data for address")

// Resolver implements core.GeoResolver
type Resolver struct {
	servers []string
	client  *dns.Client
	logger  *zap.Logger
}

// NewResolver creates a resolver querying the given DNS servers in order
func NewResolver(servers []string, timeout time.Duration, logger *zap.Logger) *Resolver {
	if len(servers) == 0 {
		servers = DefaultServers
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}
	return &Resolver{
		servers: normalized,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		logger:  logger,
	}
}

// Resolve implements core.GeoResolver
func (r *Resolver) Resolve(ctx context.Context, ip string) (*core.IPInfo, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("invalid ip %q: %w", ip, err)
	}
	addr = addr.Unmap()

	records, err := r.txt(ctx, originName(addr))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", ip, ErrNoData)
	}
	info, err := parseOrigin(records[0])
	if err != nil {
		return nil, err
	}
	info.IP = addr.String()

	// The AS name is a second lookup; its failure keeps the origin data
	if names, err := r.txt(ctx, fmt.Sprintf("AS%d.%s", info.ASN, asnZone)); err == nil && len(names) > 0 {
		info.ASName = parseASName(names[0])
	} else if err != nil {
		r.logger.Debug("AS name lookup failed",
			zap.Int("asn", info.ASN),
			zap.Error(err))
	}
	return info, nil
}

func (r *Resolver) txt(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if resp.Rcode == dns.RcodeNameError {
			return nil, nil
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("dns query %s returned %s", name, dns.RcodeToString[resp.Rcode])
			continue
		}
		var out []string
		for _, ans := range resp.Answer {
			if t, ok := ans.(*dns.TXT); ok {
				out = append(out, strings.Join(t.Txt, ""))
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("dns query %s failed: %w", name, lastErr)
}

// originName builds the reverse query name, dotted quads for IPv4 and
// nibbles for IPv6
func originName(addr netip.Addr) string {
	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.%d.%d.%s", b[3], b[2], b[1], b[0], originZone)
	}
	b := addr.As16()
	var sb strings.Builder
	for i := len(b) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%x.%x.", b[i]&0x0f, b[i]>>4)
	}
	sb.WriteString(origin6Zone)
	return sb.String()
}

// parseOrigin reads "15169 | 8.8.8.0/24 | US | arin | 2023-12-28". When an
// address is announced by several ASes the first one is used.
func parseOrigin(txt string) (*core.IPInfo, error) {
	fields := splitFields(txt)
	if len(fields) < 3 {
		return nil, fmt.Errorf("malformed origin record %q", txt)
	}
	asField := strings.Fields(fields[0])
	if len(asField) == 0 {
		return nil, fmt.Errorf("malformed origin record %q", txt)
	}
	asn, err := strconv.Atoi(asField[0])
	if err != nil {
		return nil, fmt.Errorf("malformed ASN in %q: %w", txt, err)
	}
	return &core.IPInfo{ASN: asn, Country: strings.ToUpper(fields[2])}, nil
}

// parseASName reads "15169 | US | arin | 2000-03-30 | GOOGLE, US"
func parseASName(txt string) string {
	fields := splitFields(txt)
	if len(fields) < 5 {
		return ""
	}
	return fields[4]
}

func splitFields(txt string) []string {
	parts := strings.Split(txt, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
