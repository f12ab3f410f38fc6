package summary

import (
	"strings"
	"testing"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPrompt(t *testing.T) {
	email := &core.Email{
		From:      "billing@paypa1.tk",
		Subject:   "Verify payment",
		Body:      strings.Repeat("a", 100),
		URLs:      []string{"http://paypa1.tk/login"},
		Score:     72,
		RiskLevel: core.RiskHigh,
		Flags:     []string{"spf_fail"},
	}
	p := Prompt(email, utils.NewTextProcessor(zap.NewNop()), 10)

	assert.Contains(t, p, "From: billing@paypa1.tk")
	assert.Contains(t, p, "Risk score: 72 (high)")
	assert.Contains(t, p, "Flags: spf_fail")
	assert.Contains(t, p, "hxxp://paypa1[.]tk/login")
	assert.NotContains(t, p, "http://paypa1.tk")
	assert.Contains(t, p, "[... truncated ...]")
}

func TestPromptManyLinks(t *testing.T) {
	email := &core.Email{}
	for i := 0; i < 12; i++ {
		email.URLs = append(email.URLs, "https://x.example/"+strings.Repeat("p", i))
	}
	p := Prompt(email, utils.NewTextProcessor(zap.NewNop()), 100)
	assert.Contains(t, p, "- and 2 more")
	assert.Contains(t, p, "Flags: none")
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain json", `{"summary":"Spoofed PayPal sender."}`, "Spoofed PayPal sender.", false},
		{"wrapped", "Here you go:\n```json\n{\"summary\": \" Newly registered domain. \"}\n```", "Newly registered domain.", false},
		{"empty summary", `{"summary":""}`, "", true},
		{"no json", "I cannot help with that", "", true},
		{"broken json", `{"summary": "x"`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
