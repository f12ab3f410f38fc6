package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikey/phishguard/internal/adapters/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedTime = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

const seedYAML = `
rules:
  - owner: alice
    name: verify payment
    priority: 10
    conditions:
      - field: subject
        operator: contains
        value: verify payment
      - field: score
        operator: greater_than
        value: 60
    actions:
      - type: auto_report
        params:
          language: en
      - type: mark_status
        params:
          status: reported
  - owner: alice
    name: noisy senders
    enabled: false
    conditions:
      - field: domain
        operator: in
        value: [spam.example, junk.example]
    actions:
      - type: delete
preferences:
  - owner: alice
    score_threshold: 65
    auto_report: true
    report_language: de
    trusted_domains: [corp.example]
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Rules, 2)

	first := seed.Rules[0].ToRule(fixedTime)
	assert.True(t, first.Enabled)
	assert.Equal(t, 10, first.Priority)
	assert.Equal(t, "60", first.Conditions[1].Value)
	assert.Equal(t, "reported", first.Actions[1].Params["status"])

	second := seed.Rules[1].ToRule(fixedTime)
	assert.False(t, second.Enabled)
	assert.Equal(t, "spam.example,junk.example", second.Conditions[0].Value)

	_, err = Compile(first)
	assert.NoError(t, err)
	_, err = Compile(second)
	assert.NoError(t, err)
}

func TestParseSeedRequiresOwnerAndName(t *testing.T) {
	_, err := ParseSeed([]byte("rules:\n  - name: orphan\n    actions: [{type: delete}]\n"))
	assert.Error(t, err)
}

func TestSeedApplyIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	seed, err := LoadSeedFile(path)
	require.NoError(t, err)

	s := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, seed.Apply(ctx, s.Rules, s.Preferences, zap.NewNop()))
	require.NoError(t, seed.Apply(ctx, s.Rules, s.Preferences, zap.NewNop()))

	enabled, err := s.Rules.ListEnabled(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	all, err := s.Rules.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	prefs, err := s.Preferences.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 65, prefs.ScoreThreshold)
	assert.True(t, prefs.AutoReport)
	assert.Equal(t, "de", prefs.ReportLanguage)
	assert.True(t, prefs.IsTrusted("corp.example"))
}
