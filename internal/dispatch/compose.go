package dispatch

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/utils"
)

// ReportData is the value templates are rendered with
type ReportData struct {
	ReportID      string
	EmailID       string
	Sender        string
	SenderDomain  string
	Subject       string
	URLs          []string
	Domain        string
	Registrar     string
	DomainCreated string
	OriginatingIP string
	Provider      string
	Country       string
	Score         int
	Level         string
	Flags         []string
	ReceivedAt    string
	AnalyzedAt    string
	ReportedAt    string
	RecipientType string
	Excerpt       string
	Summary       string
}

func newReportData(email *core.Email, report *core.Report, excerpt, summary string, now time.Time) ReportData {
	d := ReportData{
		ReportID:      report.ID,
		EmailID:       email.ID,
		Sender:        email.From,
		SenderDomain:  email.SenderDomain(),
		Subject:       email.Subject,
		Score:         email.Score,
		Level:         string(email.RiskLevel),
		Flags:         email.Flags,
		ReportedAt:    now.UTC().Format(time.RFC3339),
		RecipientType: string(report.RecipientType),
		Excerpt:       excerpt,
		Summary:       summary,
	}
	for _, u := range email.URLs {
		d.URLs = append(d.URLs, utils.DefangURL(u))
	}
	if !email.ReceivedDate.IsZero() {
		d.ReceivedAt = email.ReceivedDate.UTC().Format(time.RFC3339)
	}
	if email.AnalyzedAt != nil {
		d.AnalyzedAt = email.AnalyzedAt.UTC().Format(time.RFC3339)
	}
	if di := email.DomainInfo; di != nil {
		d.Domain = di.Domain
		d.Registrar = di.Registrar
		if !di.CreatedAt.IsZero() {
			d.DomainCreated = di.CreatedAt.UTC().Format("2006-01-02")
		}
	}
	if ip := email.IPInfo; ip != nil {
		d.OriginatingIP = ip.IP
		d.Provider = ip.Provider
		d.Country = ip.Country
	}
	return d
}

var templateFuncs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
}

// render executes the subject and body templates
func render(tmpl *core.ReportTemplate, data ReportData) (string, string, error) {
	subject, err := execute("subject", tmpl.Subject, data)
	if err != nil {
		return "", "", err
	}
	body, err := execute("body", tmpl.Body, data)
	if err != nil {
		return "", "", err
	}
	// Header values cannot span lines
	subject = strings.Join(strings.Fields(subject), " ")
	return subject, body, nil
}

func execute(name, src string, data ReportData) (string, error) {
	t, err := template.New(name).Funcs(templateFuncs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// composeMessage builds an RFC 5322 plain text message
func composeMessage(from, to, subject, body string, now time.Time) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", from, err)
	}
	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", to, err)
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetAddressList("To", []*mail.Address{toAddr})
	h.SetSubject(subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Auto-Submitted", "auto-generated")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}
