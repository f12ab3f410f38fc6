package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// backends runs every repository test against each implementation
func backends(t *testing.T) map[string]func(t *testing.T) *Stores {
	return map[string]func(t *testing.T) *Stores{
		"memory": func(t *testing.T) *Stores { return NewMemory() },
		"sqlite": func(t *testing.T) *Stores {
			s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "phishguard.db"), zap.NewNop())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func sampleEmail() *core.Email {
	analyzed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return &core.Email{
		ID:          "e1",
		OwnerID:     "alice",
		From:        "Billing <billing@paypa1-secure.tk>",
		To:          []string{"alice@corp.example"},
		Subject:     "Verify your account",
		Body:        "verify payment now",
		HTMLBody:    "<p>verify payment now</p>",
		Headers:     map[string][]string{"Received": {"from a by b", "from c by d"}},
		URLs:        []string{"http://paypa1-secure.tk/login"},
		Attachments: []core.Attachment{{Filename: "invoice.pdf.exe", MimeType: "application/octet-stream", Size: 1024}},
		Score:       72,
		RiskLevel:   core.RiskHigh,
		Flags:       []string{"spf_fail", "suspicious_tld"},
		Labels:      []string{"phishing"},
		Status:      core.StatusAnalyzed,
		DomainInfo: &core.DomainInfo{
			Domain:      "paypa1-secure.tk",
			Registrar:   "Freenom",
			CreatedAt:   time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC),
			Nameservers: []string{"ns1.example"},
		},
		IPInfo:       &core.IPInfo{IP: "3.5.1.2", ASN: 16509, Country: "US", IsCloudProvider: true, Provider: "aws"},
		ReceivedDate: time.Date(2026, 5, 1, 9, 59, 0, 0, time.UTC),
		CreatedAt:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		AnalyzedAt:   &analyzed,
	}
}

func TestEmailRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Emails.Get(ctx, "missing")
			assert.ErrorIs(t, err, core.ErrNotFound)

			e := sampleEmail()
			require.NoError(t, s.Emails.Save(ctx, e))

			got, err := s.Emails.Get(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, e.From, got.From)
			assert.Equal(t, e.Headers, got.Headers)
			assert.Equal(t, e.Attachments, got.Attachments)
			assert.Equal(t, e.Flags, got.Flags)
			assert.Equal(t, e.DomainInfo.Registrar, got.DomainInfo.Registrar)
			assert.True(t, e.DomainInfo.CreatedAt.Equal(got.DomainInfo.CreatedAt))
			assert.Equal(t, *e.IPInfo, *got.IPInfo)
			require.NotNil(t, got.AnalyzedAt)
			assert.True(t, e.AnalyzedAt.Equal(*got.AnalyzedAt))
			assert.Nil(t, got.ReportedAt)

			// Returned records are copies
			got.Flags[0] = "changed"
			again, err := s.Emails.Get(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, "spf_fail", again.Flags[0])

			reported := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
			e.Status = core.StatusReported
			e.ReportedAt = &reported
			require.NoError(t, s.Emails.Save(ctx, e))
			got, err = s.Emails.Get(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, core.StatusReported, got.Status)
			require.NotNil(t, got.ReportedAt)

			other := sampleEmail()
			other.ID = "e2"
			other.DomainInfo = nil
			other.IPInfo = nil
			other.CreatedAt = e.CreatedAt.Add(time.Minute)
			require.NoError(t, s.Emails.Save(ctx, other))

			list, err := s.Emails.ListByOwner(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "e1", list[0].ID)
			assert.Nil(t, list[1].DomainInfo)
		})
	}
}

func sampleRule(owner string, priority int) *core.EmailRule {
	return &core.EmailRule{
		OwnerID: owner,
		Name:    "verify payment",
		Conditions: []core.Condition{
			{Field: "subject", Operator: "contains", Value: "verify payment"},
			{Field: "score", Operator: "greater_than", Value: "60"},
		},
		Actions: []core.Action{
			{Type: "auto_report", Params: map[string]string{"language": "de"}},
			{Type: "mark_status", Params: map[string]string{"status": "reported"}},
		},
		Enabled:   true,
		Priority:  priority,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRuleRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			r1 := sampleRule("alice", 10)
			require.NoError(t, s.Rules.Save(ctx, r1))
			assert.NotZero(t, r1.ID)

			r2 := sampleRule("alice", 5)
			r2.Enabled = false
			require.NoError(t, s.Rules.Save(ctx, r2))
			assert.Greater(t, r2.ID, r1.ID)

			require.NoError(t, s.Rules.Save(ctx, sampleRule("bob", 1)))

			enabled, err := s.Rules.ListEnabled(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, enabled, 1)
			assert.Equal(t, r1.ID, enabled[0].ID)
			assert.Equal(t, r1.Conditions, enabled[0].Conditions)
			assert.Equal(t, "de", enabled[0].Actions[0].Params["language"])

			all, err := s.Rules.ListByOwner(ctx, "alice")
			require.NoError(t, err)
			assert.Len(t, all, 2)

			first, err := s.Rules.RecordMatch(ctx, r1.ID, "e1")
			require.NoError(t, err)
			assert.True(t, first)
			first, err = s.Rules.RecordMatch(ctx, r1.ID, "e1")
			require.NoError(t, err)
			assert.False(t, first)

			require.NoError(t, s.Rules.IncrementMatchCount(ctx, r1.ID))
			require.NoError(t, s.Rules.IncrementMatchCount(ctx, r1.ID))
			assert.ErrorIs(t, s.Rules.IncrementMatchCount(ctx, 9999), core.ErrNotFound)

			// Saving a stale copy keeps the counter
			r1.Name = "renamed"
			r1.MatchedCount = 0
			require.NoError(t, s.Rules.Save(ctx, r1))
			got, err := s.Rules.Get(ctx, r1.ID)
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.Name)
			assert.Equal(t, int64(2), got.MatchedCount)

			_, err = s.Rules.Get(ctx, 9999)
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestRuleMatchCountConcurrent(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			r := sampleRule("alice", 1)
			require.NoError(t, s.Rules.Save(ctx, r))

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, s.Rules.IncrementMatchCount(ctx, r.ID))
				}()
			}
			wg.Wait()

			got, err := s.Rules.Get(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(20), got.MatchedCount)
		})
	}
}

func TestReportRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			ruleID := int64(3)
			created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
			rep := &core.Report{
				ID:             "r1",
				EmailID:        "e1",
				RuleID:         &ruleID,
				RecipientEmail: "abuse@freenom.example",
				RecipientType:  core.RecipientRegistrar,
				Language:       "en",
				Subject:        "Phishing report",
				Content:        "body",
				Status:         core.ReportPending,
				CreatedAt:      created,
			}
			require.NoError(t, s.Reports.Save(ctx, rep))

			sent := created.Add(2 * time.Second)
			rep.Status = core.ReportSent
			rep.RetryCount = 2
			rep.SentAt = &sent
			require.NoError(t, s.Reports.Save(ctx, rep))

			got, err := s.Reports.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, core.ReportSent, got.Status)
			assert.Equal(t, 2, got.RetryCount)
			require.NotNil(t, got.RuleID)
			assert.Equal(t, int64(3), *got.RuleID)
			require.NotNil(t, got.SentAt)
			assert.True(t, sent.Equal(*got.SentAt))

			second := &core.Report{
				ID: "r2", EmailID: "e1", RecipientEmail: "report@cisa.gov",
				RecipientType: core.RecipientNationalCERT, Status: core.ReportFailed,
				RetryCount: 3, ErrorMessage: "421 try later", CreatedAt: created.Add(time.Second),
			}
			require.NoError(t, s.Reports.Save(ctx, second))

			list, err := s.Reports.ListByEmail(ctx, "e1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "r1", list[0].ID)
			assert.Nil(t, list[1].RuleID)
			assert.Equal(t, "421 try later", list[1].ErrorMessage)

			_, err = s.Reports.Get(ctx, "missing")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestPreferenceStore(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Preferences.Get(ctx, "alice")
			assert.ErrorIs(t, err, core.ErrNotFound)

			require.NoError(t, s.Preferences.BlockSender(ctx, "alice", "Billing@Paypa1-Secure.tk"))
			require.NoError(t, s.Preferences.BlockSender(ctx, "alice", "billing@paypa1-secure.tk"))
			require.NoError(t, s.Preferences.TrustDomain(ctx, "alice", "Corp.Example"))

			p, err := s.Preferences.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, 70, p.ScoreThreshold)
			assert.Equal(t, []string{"billing@paypa1-secure.tk"}, p.BlockedSenders)
			assert.Equal(t, []string{"corp.example"}, p.TrustedDomains)

			p.AutoReport = true
			p.ScoreThreshold = 60
			p.ReportLanguage = "fr"
			require.NoError(t, s.Preferences.Save(ctx, p))

			got, err := s.Preferences.Get(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, got.AutoReport)
			assert.Equal(t, 60, got.ScoreThreshold)
			assert.Equal(t, "fr", got.ReportLanguage)
			assert.True(t, got.IsBlocked("Billing <billing@paypa1-secure.tk>"))
			assert.True(t, got.IsTrusted("mail.corp.example"))
		})
	}
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT a FROM t WHERE x = ? AND y = ?", sqliteDialect.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", postgresDialect.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
}
