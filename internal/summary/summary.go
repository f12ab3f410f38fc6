// Package summary builds the prompt and parses the response shared by the
// LLM report summarizers.
package summary

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/utils"
)

// ErrEmptyResponse is returned when the model produced no usable text
var ErrEmptyResponse = errors.New("empty response from model")

// SystemPrompt is sent as the system role where the provider supports one
const SystemPrompt = "You write short, factual notes for abuse desks. Respond only with JSON."

const promptFormat = `An email was classified as phishing. Write one paragraph of at most four sentences
for the abuse team of the hosting provider or registrar explaining why. Mention concrete
evidence such as the sender domain, failed authentication, suspicious links or attachments.
Do not make up facts and do not include links.

Respond with a JSON object containing:
- summary: string (the paragraph)

Email:
From: %s
Subject: %s
Risk score: %d (%s)
Flags: %s
Links:
%s
Body:
%s

Respond only with the JSON object and nothing else.`

// Response is the structured reply expected from the model
type Response struct {
	Summary string `json:"summary"`
}

// Prompt renders the summary prompt. Links are defanged and the body is
// truncated to maxBodySize bytes.
func Prompt(email *core.Email, text *utils.TextProcessor, maxBodySize int) string {
	links := make([]string, 0, len(email.URLs))
	for i, u := range email.URLs {
		if i == 10 {
			links = append(links, fmt.Sprintf("- and %d more", len(email.URLs)-10))
			break
		}
		links = append(links, "- "+utils.DefangURL(u))
	}
	if len(links) == 0 {
		links = append(links, "- none")
	}
	flags := "none"
	if len(email.Flags) > 0 {
		flags = strings.Join(email.Flags, ", ")
	}
	body := text.TruncateText(text.SanitizeUTF8(email.Body), maxBodySize)
	return fmt.Sprintf(promptFormat, email.From, email.Subject, email.Score, email.RiskLevel, flags, strings.Join(links, "\n"), body)
}

// ParseResponse extracts the summary from the model output, tolerating
// text around the JSON object
func ParseResponse(text string) (string, error) {
	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return "", fmt.Errorf("failed to extract JSON from model response: %w", err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
			return "", fmt.Errorf("failed to parse model response as JSON: %w", err)
		}
	}
	s := strings.TrimSpace(resp.Summary)
	if s == "" {
		return "", ErrEmptyResponse
	}
	return s, nil
}
