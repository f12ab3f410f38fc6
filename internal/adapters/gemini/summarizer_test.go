package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/phishguard/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.Text(`{"summary":`),
				genai.Text(`"Spoofed bank."}`),
			}},
		}},
	}
	assert.Equal(t, `{"summary":"Spoofed bank."}`, responseText(resp))

	assert.Empty(t, responseText(nil))
	assert.Empty(t, responseText(&genai.GenerateContentResponse{}))
	assert.Empty(t, responseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}))
}

func TestFactoryRequiresAPIKey(t *testing.T) {
	_, err := NewFactory(config.GeminiConfig{ModelName: "gemini-1.5-flash"}, zap.NewNop(), nil).CreateSummarizer(context.Background())
	assert.ErrorContains(t, err, "api_key")
}
