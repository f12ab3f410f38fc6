package analyzer

import (
	"context"
	"mime"
	"path"
	"strings"

	"github.com/k3a/html2text"
	"github.com/mikey/phishguard/internal/core"
)

// Content analyzer flags
const (
	FlagPhishingLanguage     = "phishing_language"
	FlagUrgencyLanguage      = "urgency_language"
	FlagSuspiciousAttachment = "suspicious_attachment"
)

// DefaultPhishingPhrases returns common credential and payment lures
func DefaultPhishingPhrases() []string {
	return []string{
		"verify your account", "verify payment", "confirm your identity",
		"update your payment", "account suspended", "unusual sign-in activity",
		"click here to login", "reset your password", "your account has been locked",
		"validate your account", "security alert", "billing information",
		"wire transfer", "gift card", "invoice attached",
	}
}

// DefaultUrgencyPhrases returns common pressure phrases
func DefaultUrgencyPhrases() []string {
	return []string{
		"urgent", "immediately", "within 24 hours", "act now", "final notice",
		"expires today", "as soon as possible", "limited time", "action required",
		"last warning",
	}
}

// DefaultSuspiciousExtensions returns executable and macro-carrying extensions
func DefaultSuspiciousExtensions() []string {
	return []string{
		"exe", "scr", "js", "vbs", "bat", "cmd", "com", "pif", "jar", "hta",
		"iso", "img", "lnk", "msi", "ps1", "wsf", "docm", "xlsm", "html", "htm",
	}
}

// DefaultSuspiciousMimeTypes returns executable and macro-enabled MIME types
func DefaultSuspiciousMimeTypes() []string {
	return []string{
		"application/x-msdownload", "application/x-dosexec", "application/x-msdos-program",
		"application/java-archive", "application/x-iso9660-image", "application/hta",
		"application/javascript", "application/x-sh",
		"application/vnd.ms-excel.sheet.macroenabled.12",
		"application/vnd.ms-word.document.macroenabled.12",
	}
}

// ContentConfig configures the content and attachment analyzer
type ContentConfig struct {
	PhishingPhrases      []string
	UrgencyPhrases       []string
	SuspiciousExtensions []string
	SuspiciousMimeTypes  []string
}

// ContentAnalyzer scores body language and attachments
type ContentAnalyzer struct {
	phishing   []string
	urgency    []string
	extensions map[string]bool
	mimeTypes  map[string]bool
}

// NewContentAnalyzer creates a content and attachment analyzer
func NewContentAnalyzer(cfg ContentConfig) *ContentAnalyzer {
	return &ContentAnalyzer{
		phishing:   normalizePhrases(cfg.PhishingPhrases),
		urgency:    normalizePhrases(cfg.UrgencyPhrases),
		extensions: toSet(cfg.SuspiciousExtensions, func(s string) string { return strings.TrimPrefix(strings.ToLower(s), ".") }),
		mimeTypes:  toSet(cfg.SuspiciousMimeTypes, strings.ToLower),
	}
}

// Name implements core.Analyzer
func (a *ContentAnalyzer) Name() string {
	return "content"
}

// Analyze implements core.Analyzer
func (a *ContentAnalyzer) Analyze(_ context.Context, email *core.Email) core.AnalyzerResult {
	res := core.AnalyzerResult{}

	text := strings.ToLower(email.Subject + "\n" + email.Body)
	if email.HTMLBody != "" {
		text += "\n" + strings.ToLower(html2text.HTML2Text(email.HTMLBody))
	}

	matched := make(map[string]bool)
	phishingHit := countMatches(text, a.phishing, matched)
	urgencyHit := countMatches(text, a.urgency, matched)
	if phishingHit > 0 {
		res.Flags = append(res.Flags, FlagPhishingLanguage)
	}
	if urgencyHit > 0 {
		res.Flags = append(res.Flags, FlagUrgencyLanguage)
	}
	res.Partials.Content = min(100, 5*len(matched))

	for _, att := range email.Attachments {
		if a.suspiciousAttachment(att) {
			res.Partials.Attachment = 20
			res.Flags = append(res.Flags, FlagSuspiciousAttachment)
			break
		}
	}
	return res
}

// countMatches records each phrase found in text and returns how many of
// phrases were found
func countMatches(text string, phrases []string, matched map[string]bool) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(text, p) {
			matched[p] = true
			n++
		}
	}
	return n
}

func (a *ContentAnalyzer) suspiciousAttachment(att core.Attachment) bool {
	// Only the final extension of names like invoice.pdf.exe matters
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(strings.TrimSpace(att.Filename))), ".")
	if ext != "" && a.extensions[ext] {
		return true
	}
	if att.MimeType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(att.MimeType)
	if err != nil {
		mt = att.MimeType
	}
	return a.mimeTypes[strings.ToLower(mt)]
}

func normalizePhrases(phrases []string) []string {
	seen := make(map[string]bool, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
