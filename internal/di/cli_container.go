package di

import (
	"context"
	"flag"
	"strings"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phishguard/internal/adapters/events"
	"github.com/mikey/phishguard/internal/adapters/intake"
	"github.com/mikey/phishguard/internal/adapters/store"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/factory"
	"github.com/mikey/phishguard/internal/logging"
)

// CLIFlags contains all command line flags for the one-shot checker
type CLIFlags struct {
	// Summarizer flags
	Provider    string
	MaxTokens   int
	Temperature float64
	TopP        float64
	MaxBodySize int

	// Bedrock flags
	BedrockRegion  string
	BedrockModelID string

	// Gemini flags
	GeminiAPIKey    string
	GeminiModelName string

	// OpenAI flags
	OpenAIAPIKey    string
	OpenAIModelName string

	// Analysis flags
	Whitelist string
	Timeout   string

	// Report flags
	Report   bool
	ReportTo string
	Language string

	// Input flags
	InputFile  string
	Owner      string
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line arguments into a CLIFlags struct
func ParseFlags(name string, args []string) (*CLIFlags, error) {
	flags := &CLIFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	// Summarizer flags
	fs.StringVar(&flags.Provider, "provider", "none", "Report summarizer provider (none, bedrock, gemini, openai)")
	fs.IntVar(&flags.MaxTokens, "max-tokens", 400, "Maximum tokens for the summary")
	fs.Float64Var(&flags.Temperature, "temperature", 0.1, "Temperature for summary generation")
	fs.Float64Var(&flags.TopP, "top-p", 0.9, "Top-p for summary generation")
	fs.IntVar(&flags.MaxBodySize, "max-body-size", 4096, "Maximum email body size sent to the summarizer")

	// Bedrock flags
	fs.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	fs.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-3-haiku-20240307-v1:0", "Bedrock model ID")

	// Gemini flags
	fs.StringVar(&flags.GeminiAPIKey, "gemini-api-key", "", "API key for Google Gemini")
	fs.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-1.5-flash", "Gemini model name")

	// OpenAI flags
	fs.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI")
	fs.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4o-mini", "OpenAI model name")

	// Analysis flags
	fs.StringVar(&flags.Whitelist, "whitelist", "", "Comma-separated list of trusted domains")
	fs.StringVar(&flags.Timeout, "timeout", "10s", "Analysis deadline")

	// Report flags
	fs.BoolVar(&flags.Report, "report", false, "Dispatch abuse reports after the analysis")
	fs.StringVar(&flags.ReportTo, "report-to", "", "Additional report recipient address")
	fs.StringVar(&flags.Language, "language", "", "Report language (defaults to the configured language)")

	// Input flags
	fs.StringVar(&flags.InputFile, "file", "", "Input email file (use stdin if not specified)")
	fs.StringVar(&flags.Owner, "owner", "", "Mailbox owner the email belongs to")
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	fs.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

// BuildCLIContainer creates and configures a dependency injection container
// for the one-shot checker. Records live in memory for the run only.
func BuildCLIContainer(ctx context.Context, flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.Load(flags.ConfigFile)
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}

		// Create config from command line flags
		return createConfigFromFlags(flags), nil
	}); err != nil {
		return nil, err
	}

	// Register in-memory stores
	if err := container.Provide(store.NewMemory); err != nil {
		return nil, err
	}

	// No persistent lookup tier for a single run
	if err := container.Provide(func() factory.CacheRepository { return nil }); err != nil {
		return nil, err
	}

	// Events are only interesting when debugging
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) *EventSink {
		sink := &EventSink{Close: func() error { return nil }}
		if flags.Verbose {
			sink.Publisher = events.NewLogPublisher(logger.Named("events"))
		}
		return sink
	}); err != nil {
		return nil, err
	}

	if err := provideCommon(ctx, container); err != nil {
		return nil, err
	}

	// Register CLI reader
	if err := container.Provide(func(n *intake.Normalizer, logger *zap.Logger, flags *CLIFlags) *intake.CLIReader {
		return intake.NewCLIReader(n, logger, flags.Verbose)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	v.Set("store.type", "memory")
	v.Set("cache.type", "none")
	v.Set("analysis.timeout", flags.Timeout)

	// Set summarizer provider
	v.Set("llm.provider", flags.Provider)

	// Set provider-specific configuration
	switch flags.Provider {
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
		v.Set("bedrock.max_tokens", flags.MaxTokens)
		v.Set("bedrock.temperature", flags.Temperature)
		v.Set("bedrock.top_p", flags.TopP)
		v.Set("bedrock.max_body_size", flags.MaxBodySize)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
		v.Set("gemini.max_tokens", flags.MaxTokens)
		v.Set("gemini.temperature", flags.Temperature)
		v.Set("gemini.top_p", flags.TopP)
		v.Set("gemini.max_body_size", flags.MaxBodySize)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
		v.Set("openai.max_tokens", flags.MaxTokens)
		v.Set("openai.temperature", flags.Temperature)
		v.Set("openai.top_p", flags.TopP)
		v.Set("openai.max_body_size", flags.MaxBodySize)
	}

	// Set whitelisted domains
	if flags.Whitelist != "" {
		domains := strings.Split(flags.Whitelist, ",")
		for i, domain := range domains {
			domains[i] = strings.TrimSpace(domain)
		}
		v.Set("analysis.whitelisted_domains", domains)
	}

	if flags.Owner != "" {
		v.Set("intake.owner", flags.Owner)
	}

	return config.NewFromViper(v)
}
