package utils

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// TextProcessor prepares message text for report excerpts and summarizer prompts
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// TruncateText truncates text to at most maxSize bytes on a UTF-8 boundary.
// A marker is appended when anything was cut.
func (tp *TextProcessor) TruncateText(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	truncated := text[:maxSize]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}

	tp.logger.Debug("Text truncated",
		zap.Int("original_size", len(text)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", maxSize))

	return truncated + "\n[... truncated ...]"
}

// SanitizeUTF8 drops invalid UTF-8 bytes
func (tp *TextProcessor) SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// Excerpt collapses whitespace, sanitizes and truncates text for quoting
// inside an abuse report
func (tp *TextProcessor) Excerpt(text string, maxSize int) string {
	collapsed := strings.Join(strings.Fields(tp.SanitizeUTF8(text)), " ")
	return tp.TruncateText(collapsed, maxSize)
}

// DefangURL rewrites a link so mail clients will not make it clickable.
// Only the first dot of the host is bracketed.
func DefangURL(u string) string {
	u = strings.Replace(u, "http://", "hxxp://", 1)
	u = strings.Replace(u, "https://", "hxxps://", 1)
	hostStart := 0
	if i := strings.Index(u, "://"); i >= 0 {
		hostStart = i + 3
	}
	if dot := strings.Index(u[hostStart:], "."); dot >= 0 {
		pos := hostStart + dot
		u = u[:pos] + "[.]" + u[pos+1:]
	}
	return u
}
