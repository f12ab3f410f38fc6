// Package gemini writes abuse report summaries with Google Gemini.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/summary"
	"github.com/mikey/phishguard/internal/utils"
	"go.uber.org/zap"
)

// Summarizer implements ports.Summarizer using Google Gemini
type Summarizer struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewSummarizer creates a Gemini summarizer on an existing client
func NewSummarizer(
	client *genai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Summarizer {
	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(summary.SystemPrompt))

	return &Summarizer{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Summarize implements ports.Summarizer
func (s *Summarizer) Summarize(ctx context.Context, email *core.Email) (string, error) {
	prompt := summary.Prompt(email, s.textProcessor, s.maxBodySize)

	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", summary.ErrEmptyResponse
	}

	s.logger.Debug("Gemini summary generated",
		zap.String("email_id", email.ID),
		zap.String("model", s.modelName))
	return summary.ParseResponse(text)
}

// Close releases the underlying client
func (s *Summarizer) Close() error {
	return s.client.Close()
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
