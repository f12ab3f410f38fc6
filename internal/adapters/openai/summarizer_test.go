package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/utils"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, content string, status int) (*httptest.Server, *openai.ChatCompletionRequest) {
	t.Helper()
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func newTestSummarizer(baseURL string) *Summarizer {
	logger := zap.NewNop()
	return NewFactory(config.OpenAIConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		ModelName:   "gpt-4o-mini",
		MaxTokens:   300,
		Temperature: 0.1,
		TopP:        0.9,
		MaxBodySize: 1024,
	}, logger, utils.NewTextProcessor(logger)).CreateSummarizer()
}

func TestSummarize(t *testing.T) {
	srv, got := newTestServer(t, `{"summary":"The sender impersonates PayPal from a new .tk domain."}`, http.StatusOK)
	s := newTestSummarizer(srv.URL)

	text, err := s.Summarize(context.Background(), &core.Email{ID: "e1", From: "billing@paypa1.tk", Subject: "Verify"})
	require.NoError(t, err)
	assert.Equal(t, "The sender impersonates PayPal from a new .tk domain.", text)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 300, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "From: billing@paypa1.tk")
}

func TestSummarizeAPIError(t *testing.T) {
	srv, _ := newTestServer(t, "", http.StatusTooManyRequests)
	_, err := newTestSummarizer(srv.URL).Summarize(context.Background(), &core.Email{ID: "e1"})
	assert.ErrorContains(t, err, "failed to create chat completion")
}
