// Package whois resolves domain registration data over RDAP and the
// classic port 43 WHOIS protocol.
package whois

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// DefaultRDAPEndpoint is the bootstrap redirector for RDAP domain queries
const DefaultRDAPEndpoint = "https://rdap.org"

// ErrDomainNotFound is returned when the registry has no record of the domain
var ErrDomainNotFound = errors.New("domain not registered")

// RDAPClient implements core.DomainLookupClient over RDAP
type RDAPClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewRDAPClient creates an RDAP client. The http client follows the
// bootstrap redirect to the authoritative registry.
func NewRDAPClient(endpoint string, timeout time.Duration, logger *zap.Logger) *RDAPClient {
	if endpoint == "" {
		endpoint = DefaultRDAPEndpoint
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RDAPClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type rdapDomain struct {
	LDHName     string           `json:"ldhName"`
	Events      []rdapEvent      `json:"events"`
	Entities    []rdapEntity     `json:"entities"`
	Nameservers []rdapNameserver `json:"nameservers"`
}

type rdapEvent struct {
	Action string `json:"eventAction"`
	Date   string `json:"eventDate"`
}

type rdapEntity struct {
	Roles      []string        `json:"roles"`
	VCardArray json.RawMessage `json:"vcardArray"`
	Entities   []rdapEntity    `json:"entities"`
}

type rdapNameserver struct {
	LDHName string `json:"ldhName"`
}

// Lookup implements core.DomainLookupClient
func (c *RDAPClient) Lookup(ctx context.Context, domain string) (*core.DomainInfo, error) {
	u := fmt.Sprintf("%s/domain/%s", c.endpoint, url.PathEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build rdap request: %w", err)
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rdap request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", domain, ErrDomainNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("rdap returned status %d for %s", resp.StatusCode, domain)
	}

	var data rdapDomain
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode rdap response: %w", err)
	}
	info := parseRDAP(domain, &data)
	c.logger.Debug("RDAP lookup completed",
		zap.String("domain", domain),
		zap.String("registrar", info.Registrar),
		zap.Time("created_at", info.CreatedAt))
	return info, nil
}

func parseRDAP(domain string, data *rdapDomain) *core.DomainInfo {
	info := &core.DomainInfo{Domain: strings.ToLower(domain), Source: "rdap"}
	for _, ev := range data.Events {
		if ev.Action == "registration" {
			if t, err := time.Parse(time.RFC3339, ev.Date); err == nil {
				info.CreatedAt = t.UTC()
			}
		}
	}
	for _, ns := range data.Nameservers {
		if ns.LDHName != "" {
			info.Nameservers = append(info.Nameservers, strings.ToLower(strings.TrimSuffix(ns.LDHName, ".")))
		}
	}

	for _, ent := range data.Entities {
		card := parseVCard(ent.VCardArray)
		switch {
		case hasRole(ent.Roles, "registrar"):
			info.Registrar = card.fn
			for _, sub := range ent.Entities {
				if hasRole(sub.Roles, "abuse") {
					if abuse := parseVCard(sub.VCardArray); abuse.email != "" {
						info.AbuseContact = abuse.email
					}
				}
			}
			if info.AbuseContact == "" && card.email != "" {
				info.AbuseContact = card.email
			}
		case hasRole(ent.Roles, "registrant"):
			if card.country != "" {
				info.Country = card.country
			}
		case hasRole(ent.Roles, "abuse"):
			if info.AbuseContact == "" {
				info.AbuseContact = card.email
			}
		}
	}
	return info
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type vcard struct {
	fn      string
	email   string
	country string
}

// parseVCard reads the jCard form ["vcard", [[name, params, type, value], ...]]
func parseVCard(raw json.RawMessage) vcard {
	var card vcard
	if len(raw) == 0 {
		return card
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) < 2 {
		return card
	}
	props, ok := arr[1].([]any)
	if !ok {
		return card
	}
	for _, p := range props {
		prop, ok := p.([]any)
		if !ok || len(prop) < 4 {
			continue
		}
		name, _ := prop[0].(string)
		switch strings.ToLower(name) {
		case "fn":
			card.fn, _ = prop[3].(string)
		case "email":
			if card.email == "" {
				card.email, _ = prop[3].(string)
			}
		case "adr":
			if params, ok := prop[1].(map[string]any); ok {
				if cc, ok := params["cc"].(string); ok {
					card.country = strings.ToUpper(cc)
				}
			}
		}
	}
	return card
}
