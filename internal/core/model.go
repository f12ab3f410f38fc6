package core

import (
	"strings"
	"time"
)

// EmailStatus is the lifecycle state of an analyzed email
type EmailStatus string

const (
	StatusPending       EmailStatus = "pending"
	StatusAnalyzed      EmailStatus = "analyzed"
	StatusReported      EmailStatus = "reported"
	StatusFlagged       EmailStatus = "flagged"
	StatusFalsePositive EmailStatus = "false_positive"
	StatusDeleted       EmailStatus = "deleted"
)

// transitions lists the forward moves allowed from each status.
// analyzed -> pending is the reanalysis path.
var transitions = map[EmailStatus][]EmailStatus{
	StatusPending:       {StatusAnalyzed, StatusDeleted},
	StatusAnalyzed:      {StatusPending, StatusFlagged, StatusReported, StatusFalsePositive, StatusDeleted},
	StatusFlagged:       {StatusReported, StatusFalsePositive, StatusDeleted},
	StatusReported:      {StatusFalsePositive, StatusDeleted},
	StatusFalsePositive: {StatusDeleted},
	StatusDeleted:       {},
}

// ParseEmailStatus converts a string into an EmailStatus
func ParseEmailStatus(s string) (EmailStatus, bool) {
	st := EmailStatus(strings.ToLower(strings.TrimSpace(s)))
	_, ok := transitions[st]
	return st, ok
}

// CanTransition reports whether the status may move from s to next
func (s EmailStatus) CanTransition(next EmailStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RiskLevel is the four-band classification of a score
type RiskLevel string

const (
	RiskSafe       RiskLevel = "safe"
	RiskSuspicious RiskLevel = "suspicious"
	RiskHigh       RiskLevel = "high"
	RiskCritical   RiskLevel = "critical"
)

// Attachment describes a file attached to an email
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// DomainInfo holds registration data for a domain
type DomainInfo struct {
	Domain       string    `json:"domain"`
	Registrar    string    `json:"registrar,omitempty"`
	AbuseContact string    `json:"abuse_contact,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	Nameservers  []string  `json:"nameservers,omitempty"`
	Country      string    `json:"country,omitempty"`
	Source       string    `json:"source,omitempty"`
	// LookupError is set when the registration data is unknown
	LookupError string `json:"lookup_error,omitempty"`
}

// Known reports whether registration data was actually resolved
func (d *DomainInfo) Known() bool {
	return d != nil && d.LookupError == ""
}

// AgeDays returns the domain age in whole days at the given instant, or -1 if unknown
func (d *DomainInfo) AgeDays(now time.Time) int {
	if !d.Known() || d.CreatedAt.IsZero() {
		return -1
	}
	return int(now.Sub(d.CreatedAt).Hours() / 24)
}

// IPInfo holds network data for the originating IP
type IPInfo struct {
	IP              string `json:"ip"`
	ASN             int    `json:"asn,omitempty"`
	ASName          string `json:"as_name,omitempty"`
	Country         string `json:"country,omitempty"`
	IsCloudProvider bool   `json:"is_cloud_provider"`
	Provider        string `json:"provider,omitempty"`
}

// Email represents a normalized inbound email message
type Email struct {
	ID           string
	OwnerID      string
	From         string
	To           []string
	Subject      string
	Body         string
	HTMLBody     string
	Headers      map[string][]string
	URLs         []string
	Attachments  []Attachment
	Score        int
	RiskLevel    RiskLevel
	Flags        []string
	Labels       []string
	Status       EmailStatus
	DomainInfo   *DomainInfo
	IPInfo       *IPInfo
	Flagged      bool
	ReceivedDate time.Time
	CreatedAt    time.Time
	AnalyzedAt   *time.Time
	ReportedAt   *time.Time
}

// Header returns all values of a header, matched case-insensitively
func (e *Email) Header(name string) []string {
	if v, ok := e.Headers[name]; ok {
		return v
	}
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// SenderDomain returns the lowercased domain part of the sender address
func (e *Email) SenderDomain() string {
	return DomainOf(e.From)
}

// HasLabel reports whether the label is present
func (e *Email) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// HasFlag reports whether the analyzer flag is present
func (e *Email) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or maps with e
func (e *Email) Clone() *Email {
	c := *e
	c.To = append([]string(nil), e.To...)
	c.URLs = append([]string(nil), e.URLs...)
	c.Attachments = append([]Attachment(nil), e.Attachments...)
	c.Flags = append([]string(nil), e.Flags...)
	c.Labels = append([]string(nil), e.Labels...)
	if e.Headers != nil {
		c.Headers = make(map[string][]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = append([]string(nil), v...)
		}
	}
	if e.DomainInfo != nil {
		d := *e.DomainInfo
		d.Nameservers = append([]string(nil), e.DomainInfo.Nameservers...)
		c.DomainInfo = &d
	}
	if e.IPInfo != nil {
		ip := *e.IPInfo
		c.IPInfo = &ip
	}
	if e.AnalyzedAt != nil {
		t := *e.AnalyzedAt
		c.AnalyzedAt = &t
	}
	if e.ReportedAt != nil {
		t := *e.ReportedAt
		c.ReportedAt = &t
	}
	return &c
}

// DomainOf extracts the lowercased domain from an address like "Name <user@example.com>"
func DomainOf(addr string) string {
	addr = ExtractAddress(addr)
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(addr[at+1:], "."))
}

// ExtractAddress extracts the bare address from a string like "Name <user@example.com>"
func ExtractAddress(s string) string {
	start := strings.LastIndex(s, "<")
	end := strings.LastIndex(s, ">")
	if start >= 0 && end > start {
		return strings.TrimSpace(s[start+1 : end])
	}
	return strings.TrimSpace(s)
}

// PartialScores are the analyzer contributions fed to the aggregator, each 0-100
type PartialScores struct {
	Header     int `json:"header"`
	URL        int `json:"url"`
	Domain     int `json:"domain"`
	Attachment int `json:"attachment"`
	Content    int `json:"content"`
}

// Assessment is the outcome of one analysis run
type Assessment struct {
	Partials   PartialScores
	Score      int
	Level      RiskLevel
	Flags      []string
	DomainInfo *DomainInfo
	IPInfo     *IPInfo
	// Degraded lists analyzers whose contribution defaulted to zero
	Degraded   []string
	AnalyzedAt time.Time
	// Rules lists the rules that fired during processing
	Rules      []RuleOutcome
}

// UserPreferences are the per-owner settings read by the rule engine
type UserPreferences struct {
	OwnerID        string
	ScoreThreshold int
	AutoReport     bool
	ReportLanguage string
	BlockedSenders []string
	TrustedDomains []string
}

// IsBlocked reports whether the sender address is on the blocked list
func (p *UserPreferences) IsBlocked(sender string) bool {
	addr := strings.ToLower(ExtractAddress(sender))
	for _, b := range p.BlockedSenders {
		if strings.ToLower(b) == addr {
			return true
		}
	}
	return false
}

// IsTrusted reports whether the domain is on the trusted list
func (p *UserPreferences) IsTrusted(domain string) bool {
	domain = strings.ToLower(domain)
	for _, d := range p.TrustedDomains {
		d = strings.ToLower(d)
		if d == domain || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

// DefaultPreferences returns the settings used for owners without a stored record
func DefaultPreferences(ownerID string) *UserPreferences {
	return &UserPreferences{
		OwnerID:        ownerID,
		ScoreThreshold: 70,
	}
}
