package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikey/phishguard/internal/adapters/bedrock"
	"github.com/mikey/phishguard/internal/adapters/gemini"
	"github.com/mikey/phishguard/internal/adapters/openai"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/ports"
	"github.com/mikey/phishguard/internal/utils"
	"go.uber.org/zap"
)

// LLMFactory creates the optional report summarizer
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateSummarizer creates a summarizer for the configured provider. It
// returns nil when the provider is "none", so reports go out without a
// narrative paragraph.
func (f *LLMFactory) CreateSummarizer(ctx context.Context) (ports.Summarizer, error) {
	provider := strings.ToLower(f.cfg.GetLLM().Provider)

	switch provider {
	case "none", "":
		return nil, nil
	case "bedrock":
		s, err := bedrock.NewFactory(f.cfg.GetBedrock(), f.logger, f.textProcessor).CreateSummarizer(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "gemini":
		s, err := gemini.NewFactory(f.cfg.GetGemini(), f.logger, f.textProcessor).CreateSummarizer(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "openai":
		openaiCfg := f.cfg.GetOpenAI()
		if openaiCfg.APIKey == "" && openaiCfg.BaseURL == "" {
			return nil, fmt.Errorf("openai API key is required")
		}
		return openai.NewFactory(openaiCfg, f.logger, f.textProcessor).CreateSummarizer(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}
