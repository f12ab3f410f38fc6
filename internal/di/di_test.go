package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/phishguard/internal/adapters/intake"
	"github.com/mikey/phishguard/internal/adapters/store"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
)

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags("phish-check", []string{
		"-file", "msg.eml",
		"-report",
		"-report-to", "soc@corp.example",
		"-whitelist", "corp.example, partner.example",
		"-owner", "alice@corp.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg.eml", flags.InputFile)
	assert.True(t, flags.Report)
	assert.Equal(t, "soc@corp.example", flags.ReportTo)
	assert.Equal(t, "none", flags.Provider)

	cfg := createConfigFromFlags(flags)
	assert.Equal(t, "memory", cfg.GetStore().Type)
	assert.Equal(t, "none", cfg.GetCache().Type)
	assert.Equal(t, []string{"corp.example", "partner.example"}, cfg.GetAnalysis().WhitelistedDomains)
	assert.Equal(t, "alice@corp.example", cfg.GetIntake().Owner)
	assert.Equal(t, 10*time.Second, cfg.GetAnalysis().Timeout)
}

func TestParseFlagsRejectsUnknown(t *testing.T) {
	_, err := ParseFlags("phish-check", []string{"-bogus"})
	assert.Error(t, err)
}

func TestCreateConfigFromFlagsProvider(t *testing.T) {
	flags, err := ParseFlags("phish-check", []string{"-provider", "openai", "-openai-api-key", "sk-test"})
	require.NoError(t, err)

	cfg := createConfigFromFlags(flags)
	assert.Equal(t, "openai", cfg.GetLLM().Provider)
	assert.Equal(t, "sk-test", cfg.GetOpenAI().APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.GetOpenAI().ModelName)
}

func TestBuildCLIContainer(t *testing.T) {
	flags, err := ParseFlags("phish-check", []string{"-timeout", "2s"})
	require.NoError(t, err)

	container, err := BuildCLIContainer(context.Background(), flags)
	require.NoError(t, err)

	err = container.Invoke(func(
		cfg *config.Config,
		svc *core.PhishingService,
		reader *intake.CLIReader,
		stores *store.Stores,
		analyzers []core.Analyzer,
	) {
		assert.NotNil(t, svc)
		assert.NotNil(t, reader)
		assert.Len(t, analyzers, 3)
		assert.Equal(t, 2*time.Second, cfg.GetAnalysis().Timeout)
		assert.NoError(t, stores.Close())
	})
	require.NoError(t, err)
}
