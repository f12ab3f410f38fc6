package whois

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// DefaultWhoisServer is queried when no TLD-specific server is configured
const DefaultWhoisServer = "whois.iana.org:43"

// Port43Client implements core.DomainLookupClient over the WHOIS protocol.
// Responses that refer to another server are followed once.
type Port43Client struct {
	servers map[string]string
	timeout time.Duration
	dialer  *net.Dialer
	logger  *zap.Logger
}

// NewPort43Client creates a WHOIS client. servers maps a TLD to host:port.
func NewPort43Client(servers map[string]string, timeout time.Duration, logger *zap.Logger) *Port43Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := make(map[string]string, len(servers))
	for tld, addr := range servers {
		s[strings.ToLower(strings.TrimPrefix(tld, "."))] = withPort(addr)
	}
	return &Port43Client{
		servers: s,
		timeout: timeout,
		dialer:  &net.Dialer{Timeout: timeout},
		logger:  logger,
	}
}

// Lookup implements core.DomainLookupClient
func (c *Port43Client) Lookup(ctx context.Context, domain string) (*core.DomainInfo, error) {
	server := c.serverFor(domain)
	text, err := c.query(ctx, server, domain)
	if err != nil {
		return nil, err
	}
	fields := parseWhois(text)
	if refer := fields.get("refer", "whois server", "registrar whois server"); refer != "" && withPort(refer) != server {
		c.logger.Debug("Following WHOIS referral",
			zap.String("domain", domain),
			zap.String("server", refer))
		if referred, err := c.query(ctx, withPort(refer), domain); err == nil {
			fields = parseWhois(referred)
		}
	}
	if fields.notFound {
		return nil, fmt.Errorf("%s: %w", domain, ErrDomainNotFound)
	}
	return fields.domainInfo(domain), nil
}

func (c *Port43Client) serverFor(domain string) string {
	if i := strings.LastIndex(domain, "."); i >= 0 {
		if s, ok := c.servers[strings.ToLower(domain[i+1:])]; ok {
			return s
		}
	}
	if s, ok := c.servers["*"]; ok {
		return s
	}
	return DefaultWhoisServer
}

func (c *Port43Client) query(ctx context.Context, server, domain string) (string, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", server)
	if err != nil {
		return "", fmt.Errorf("failed to connect to whois server %s: %w", server, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("failed to set whois deadline: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\r\n", domain); err != nil {
		return "", fmt.Errorf("failed to send whois query: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(conn, 256<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read whois response: %w", err)
	}
	return string(body), nil
}

func withPort(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "whois://")
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, "43")
	}
	return addr
}

type whoisFields struct {
	values      map[string]string
	nameservers []string
	notFound    bool
}

func (f whoisFields) get(keys ...string) string {
	for _, k := range keys {
		if v := f.values[k]; v != "" {
			return v
		}
	}
	return ""
}

var notFoundMarkers = []string{"no match for", "not found", "no data found", "no entries found", "status: free"}

// whoisDateLayouts are the creation date formats seen across registries
var whoisDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.0Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
	"02.01.2006",
}

func parseWhois(text string) whoisFields {
	f := whoisFields{values: make(map[string]string)}
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		lower := strings.ToLower(line)
		for _, m := range notFoundMarkers {
			if strings.HasPrefix(lower, m) {
				f.notFound = true
			}
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if key == "name server" || key == "nserver" {
			ns := strings.ToLower(strings.Fields(value)[0])
			f.nameservers = append(f.nameservers, strings.TrimSuffix(ns, "."))
			continue
		}
		if _, exists := f.values[key]; !exists {
			f.values[key] = value
		}
	}
	return f
}

func (f whoisFields) domainInfo(domain string) *core.DomainInfo {
	info := &core.DomainInfo{
		Domain:       strings.ToLower(domain),
		Registrar:    f.get("registrar", "sponsoring registrar", "registrar name"),
		AbuseContact: f.get("registrar abuse contact email", "abuse-mailbox", "abuse contact"),
		Country:      strings.ToUpper(f.get("registrant country", "country")),
		Nameservers:  f.nameservers,
		Source:       "whois",
	}
	if len(info.Country) != 2 {
		info.Country = ""
	}
	created := f.get("creation date", "created", "registered on", "registration time", "domain registration date")
	for _, layout := range whoisDateLayouts {
		if t, err := time.Parse(layout, created); err == nil {
			info.CreatedAt = t.UTC()
			break
		}
	}
	return info
}
