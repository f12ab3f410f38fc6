package dispatch

import (
	"strings"

	"github.com/mikey/phishguard/internal/core"
)

// DefaultCloudAbuse returns abuse addresses of the hosting providers the
// header analyzer recognizes
func DefaultCloudAbuse() map[string]string {
	return map[string]string{
		"aws":          "abuse@amazonaws.com",
		"gcp":          "google-cloud-compliance@google.com",
		"azure":        "abuse@microsoft.com",
		"digitalocean": "abuse@digitalocean.com",
		"ovh":          "abuse@ovh.net",
		"linode":       "abuse@linode.com",
		"hetzner":      "abuse@hetzner.com",
		"oracle":       "abuse@oracle.com",
	}
}

// DefaultCERTContacts returns national CERT phishing intake addresses by
// ISO country code
func DefaultCERTContacts() map[string]string {
	return map[string]string{
		"US": "report@cisa.gov",
		"GB": "report@phishing.gov.uk",
		"DE": "certbund@bsi.bund.de",
		"FR": "cert-fr.cossi@ssi.gouv.fr",
		"NL": "cert@ncsc.nl",
		"AT": "reports@cert.at",
		"CH": "incidents@ncsc.ch",
		"CA": "contact@cyber.gc.ca",
		"AU": "asd.assist@defence.gov.au",
	}
}

// Resolver works out who should receive reports about an email
type Resolver struct {
	cloudAbuse map[string]string
	certs      map[string]string
}

// NewResolver creates a recipient resolver
func NewResolver(cloudAbuse, certContacts map[string]string) *Resolver {
	r := &Resolver{
		cloudAbuse: make(map[string]string, len(cloudAbuse)),
		certs:      make(map[string]string, len(certContacts)),
	}
	for k, v := range cloudAbuse {
		r.cloudAbuse[strings.ToLower(k)] = v
	}
	for k, v := range certContacts {
		r.certs[strings.ToUpper(k)] = v
	}
	return r
}

// Resolve returns the deduplicated recipients for the requested types, or
// every type when none were requested
func (r *Resolver) Resolve(email *core.Email, req core.DispatchRequest) []core.Recipient {
	want := func(t core.RecipientType) bool {
		if len(req.Types) == 0 {
			return true
		}
		for _, rt := range req.Types {
			if rt == t {
				return true
			}
		}
		return false
	}

	var out []core.Recipient
	seen := make(map[string]bool)
	add := func(addr string, t core.RecipientType) {
		addr = strings.TrimSpace(core.ExtractAddress(addr))
		key := strings.ToLower(addr)
		if addr == "" || !strings.Contains(addr, "@") || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, core.Recipient{Address: addr, Type: t})
	}

	if want(core.RecipientRegistrar) && email.DomainInfo.Known() {
		add(email.DomainInfo.AbuseContact, core.RecipientRegistrar)
	}
	if want(core.RecipientCloudProvider) && email.IPInfo != nil && email.IPInfo.IsCloudProvider {
		add(r.cloudAbuse[strings.ToLower(email.IPInfo.Provider)], core.RecipientCloudProvider)
	}
	if want(core.RecipientNationalCERT) {
		if country := Jurisdiction(email); country != "" {
			add(r.certs[country], core.RecipientNationalCERT)
		}
	}
	// An explicit custom address is always honoured
	if req.Custom != "" {
		add(req.Custom, core.RecipientCustom)
	}
	return out
}

// Jurisdiction picks the country for the national CERT: the originating IP
// country, then the registrant country, then the ccTLD of the domain
func Jurisdiction(email *core.Email) string {
	if email.IPInfo != nil && email.IPInfo.Country != "" {
		return strings.ToUpper(email.IPInfo.Country)
	}
	if email.DomainInfo.Known() && email.DomainInfo.Country != "" {
		return strings.ToUpper(email.DomainInfo.Country)
	}
	domain := email.SenderDomain()
	if email.DomainInfo != nil && email.DomainInfo.Domain != "" {
		domain = email.DomainInfo.Domain
	}
	return countryFromTLD(domain)
}

func countryFromTLD(domain string) string {
	i := strings.LastIndex(domain, ".")
	if i < 0 {
		return ""
	}
	tld := strings.ToLower(domain[i+1:])
	if len(tld) != 2 {
		return ""
	}
	switch tld {
	case "uk":
		return "GB"
	case "eu":
		return ""
	}
	return strings.ToUpper(tld)
}
