package analyzer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
)

func defaultContentAnalyzer() *ContentAnalyzer {
	return NewContentAnalyzer(ContentConfig{
		PhishingPhrases:      DefaultPhishingPhrases(),
		UrgencyPhrases:       DefaultUrgencyPhrases(),
		SuspiciousExtensions: DefaultSuspiciousExtensions(),
		SuspiciousMimeTypes:  DefaultSuspiciousMimeTypes(),
	})
}

func TestContentTwoUrgencyPhrases(t *testing.T) {
	a := defaultContentAnalyzer()

	res := a.Analyze(context.Background(), &core.Email{Body: "This is URGENT, please respond immediately."})

	assert.Equal(t, 10, res.Partials.Content)
	assert.Equal(t, []string{FlagUrgencyLanguage}, res.Flags)
}

func TestContentScansSubjectAndHTML(t *testing.T) {
	a := defaultContentAnalyzer()

	res := a.Analyze(context.Background(), &core.Email{
		Subject:  "Security alert",
		HTMLBody: "<p>Please <b>verify your account</b></p>",
	})

	assert.Equal(t, 10, res.Partials.Content)
	assert.Equal(t, []string{FlagPhishingLanguage}, res.Flags)
}

func TestContentDistinctPhrasesCountOnce(t *testing.T) {
	a := NewContentAnalyzer(ContentConfig{
		PhishingPhrases: []string{"act now", "Act Now"},
		UrgencyPhrases:  []string{"act now"},
	})

	res := a.Analyze(context.Background(), &core.Email{Body: "act now act now ACT NOW"})
	assert.Equal(t, 5, res.Partials.Content)
}

func TestContentCappedAtHundred(t *testing.T) {
	var phrases []string
	for i := 0; i < 25; i++ {
		phrases = append(phrases, fmt.Sprintf("lure%02d", i))
	}
	a := NewContentAnalyzer(ContentConfig{PhishingPhrases: phrases})

	res := a.Analyze(context.Background(), &core.Email{Body: strings.Join(phrases, " ")})
	assert.Equal(t, 100, res.Partials.Content)
}

func TestAttachments(t *testing.T) {
	a := defaultContentAnalyzer()

	tests := []struct {
		name        string
		attachments []core.Attachment
		want        int
	}{
		{"none", nil, 0},
		{"pdf", []core.Attachment{{Filename: "invoice.pdf", MimeType: "application/pdf"}}, 0},
		{"double extension", []core.Attachment{{Filename: "invoice.pdf.exe", MimeType: "application/pdf"}}, 20},
		{"last extension wins", []core.Attachment{{Filename: "setup.exe.pdf", MimeType: "application/pdf"}}, 0},
		{"mime with params", []core.Attachment{{Filename: "file.bin", MimeType: "Application/X-MSDownload; name=file.bin"}}, 20},
		{"upper case extension", []core.Attachment{{Filename: "REPORT.JS"}}, 20},
		{"counted once", []core.Attachment{{Filename: "a.exe"}, {Filename: "b.scr"}}, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Analyze(context.Background(), &core.Email{Attachments: tt.attachments})
			assert.Equal(t, tt.want, res.Partials.Attachment)
		})
	}
}
