package intake

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// CLIReader loads single messages for the one-shot checker
type CLIReader struct {
	normalizer *Normalizer
	logger     *zap.Logger
	verbose    bool
}

// NewCLIReader creates a CLI reader
func NewCLIReader(normalizer *Normalizer, logger *zap.Logger, verbose bool) *CLIReader {
	return &CLIReader{normalizer: normalizer, logger: logger, verbose: verbose}
}

// ReadFile normalizes the message at path, "-" or "" meaning stdin
func (c *CLIReader) ReadFile(ctx context.Context, path string, env Envelope) (*core.Email, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open message: %w", err)
		}
		defer f.Close()
		r = f
	}
	return c.Read(ctx, r, env)
}

// Read normalizes one message from r
func (c *CLIReader) Read(ctx context.Context, r io.Reader, env Envelope) (*core.Email, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	email, err := c.normalizer.Normalize(ctx, raw, env)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Loaded message",
		zap.String("email_id", email.ID),
		zap.String("sender", email.From),
		zap.Int("size", len(raw)))
	return email, nil
}

// PrintSummary writes the message summary
func (c *CLIReader) PrintSummary(w io.Writer, email *core.Email) {
	fmt.Fprintf(w, "\n=== Email Summary ===\n")
	fmt.Fprintf(w, "ID: %s\n", email.ID)
	fmt.Fprintf(w, "Owner: %s\n", email.OwnerID)
	fmt.Fprintf(w, "From: %s\n", email.From)
	fmt.Fprintf(w, "To: %s\n", strings.Join(email.To, ", "))
	fmt.Fprintf(w, "Subject: %s\n", email.Subject)
	fmt.Fprintf(w, "Body length: %d bytes\n", len(email.Body))
	fmt.Fprintf(w, "URLs: %d\n", len(email.URLs))
	for _, a := range email.Attachments {
		fmt.Fprintf(w, "Attachment: %s (%s, %d bytes)\n", a.Filename, a.MimeType, a.Size)
	}
	if c.verbose {
		for _, u := range email.URLs {
			fmt.Fprintf(w, "  %s\n", u)
		}
		preview := email.Body
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		fmt.Fprintf(w, "\nBody preview:\n%s\n", preview)
	}
}

// PrintAssessment writes the risk breakdown and rule outcomes
func (c *CLIReader) PrintAssessment(w io.Writer, email *core.Email, a *core.Assessment) {
	fmt.Fprintf(w, "\n=== Results ===\n")
	fmt.Fprintf(w, "Header:     %3d\n", a.Partials.Header)
	fmt.Fprintf(w, "URL:        %3d\n", a.Partials.URL)
	fmt.Fprintf(w, "Domain:     %3d\n", a.Partials.Domain)
	fmt.Fprintf(w, "Attachment: %3d\n", a.Partials.Attachment)
	fmt.Fprintf(w, "Content:    %3d\n", a.Partials.Content)
	fmt.Fprintf(w, "Score: %d (%s)\n", a.Score, a.Level)
	if len(a.Flags) > 0 {
		fmt.Fprintf(w, "Flags: %s\n", strings.Join(a.Flags, ", "))
	}
	if len(a.Degraded) > 0 {
		fmt.Fprintf(w, "Degraded: %s\n", strings.Join(a.Degraded, ", "))
	}
	if d := a.DomainInfo; d != nil {
		fmt.Fprintf(w, "Domain: %s registrar=%q age=%dd country=%s\n", d.Domain, d.Registrar, d.AgeDays(time.Now()), d.Country)
	}
	if ip := a.IPInfo; ip != nil {
		fmt.Fprintf(w, "Origin IP: %s AS%d %s country=%s cloud=%t\n", ip.IP, ip.ASN, ip.ASName, ip.Country, ip.IsCloudProvider)
	}
	for _, o := range a.Rules {
		fmt.Fprintf(w, "Rule matched: %s (#%d) actions=%s", o.RuleName, o.RuleID, strings.Join(o.Actions, ","))
		if len(o.Failed) > 0 {
			fmt.Fprintf(w, " failed=%s", strings.Join(o.Failed, ","))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Status: %s\n", email.Status)
}

// PrintReports writes the dispatched reports
func (c *CLIReader) PrintReports(w io.Writer, reports []*core.Report) {
	fmt.Fprintf(w, "\n=== Reports ===\n")
	if len(reports) == 0 {
		fmt.Fprintln(w, "No reports dispatched")
	}
	for _, r := range reports {
		fmt.Fprintf(w, "%s -> %s (%s): %s after %d attempt(s)", r.RecipientType, r.RecipientEmail, r.Language, r.Status, r.RetryCount)
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, " error=%s", r.ErrorMessage)
		}
		fmt.Fprintln(w)
	}
}
