package rules

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/mikey/phishguard/internal/adapters/store"
	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDispatcher stores one sent report per call and marks the email reported
type fakeDispatcher struct {
	mu       sync.Mutex
	reports  core.ReportRepository
	emails   core.EmailRepository
	requests []core.DispatchRequest
	err      error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, email *core.Email, req core.DispatchRequest) ([]*core.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	r := &core.Report{
		ID:             fmt.Sprintf("r%d", len(f.requests)),
		EmailID:        email.ID,
		RuleID:         req.RuleID,
		RecipientEmail: "abuse@registrar.example",
		RecipientType:  core.RecipientRegistrar,
		Status:         core.ReportSent,
		RetryCount:     1,
	}
	if err := f.reports.Save(ctx, r); err != nil {
		return nil, err
	}
	email.Status = core.StatusReported
	return []*core.Report{r}, f.emails.Save(ctx, email)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type testEnv struct {
	stores     *store.Stores
	dispatcher *fakeDispatcher
	events     *recordingPublisher
	engine     *Engine
}

func newTestEnv() *testEnv {
	s := store.NewMemory()
	d := &fakeDispatcher{reports: s.Reports, emails: s.Emails}
	p := &recordingPublisher{}
	return &testEnv{
		stores:     s,
		dispatcher: d,
		events:     p,
		engine:     NewEngine(s.Rules, s.Emails, s.Preferences, d, p, zap.NewNop()),
	}
}

func (env *testEnv) addRule(t *testing.T, r *core.EmailRule) *core.EmailRule {
	t.Helper()
	if r.OwnerID == "" {
		r.OwnerID = "alice"
	}
	r.Enabled = true
	require.NoError(t, env.stores.Rules.Save(context.Background(), r))
	return r
}

func analyzedEmail(t *testing.T, env *testEnv) *core.Email {
	t.Helper()
	e := &core.Email{
		ID:        "email-1",
		OwnerID:   "alice",
		From:      "Billing <billing@evil.example>",
		Subject:   "Please VERIFY PAYMENT today",
		Body:      "Your account will be closed",
		URLs:      []string{"https://evil.example/login"},
		Score:     75,
		RiskLevel: core.RiskHigh,
		Status:    core.StatusAnalyzed,
	}
	require.NoError(t, env.stores.Emails.Save(context.Background(), e))
	return e
}

func TestVerifyPaymentRuleReportsOnce(t *testing.T) {
	env := newTestEnv()
	rule := env.addRule(t, &core.EmailRule{
		Name: "verify payment",
		Conditions: []core.Condition{
			{Field: "subject", Operator: "contains", Value: "verify payment"},
			{Field: "score", Operator: "greater_than", Value: "60"},
		},
		Actions: []core.Action{
			{Type: "auto_report"},
			{Type: "mark_status", Params: map[string]string{"status": "reported"}},
		},
	})
	email := analyzedEmail(t, env)
	ctx := context.Background()

	outcomes, err := env.engine.Evaluate(ctx, email)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, []string{"auto_report", "mark_status"}, outcomes[0].Actions)
	assert.Empty(t, outcomes[0].Failed)

	// Evaluating again, as a reanalysis would, must not fire the rule twice
	email.Status = core.StatusAnalyzed
	outcomes, err = env.engine.Evaluate(ctx, email)
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	reports, err := env.stores.Reports.ListByEmail(ctx, email.ID)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	require.NotNil(t, reports[0].RuleID)
	assert.Equal(t, rule.ID, *reports[0].RuleID)

	stored, err := env.stores.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.MatchedCount)

	require.Len(t, env.events.events, 1)
	assert.Equal(t, core.EventRuleMatched, env.events.events[0].Type)
}

func TestRulesRunInPriorityOrder(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		env := newTestEnv()
		var rules []*core.EmailRule
		for i := 0; i < 12; i++ {
			rule := env.addRule(t, &core.EmailRule{
				Name:     fmt.Sprintf("rule-%d", i),
				Priority: r.Intn(4),
			})
			rule.Actions = []core.Action{{Type: "add_label", Params: map[string]string{"label": fmt.Sprintf("id-%d", rule.ID)}}}
			require.NoError(t, env.stores.Rules.Save(context.Background(), rule))
			rules = append(rules, rule)
		}
		email := analyzedEmail(t, env)

		_, err := env.engine.Evaluate(context.Background(), email)
		require.NoError(t, err)

		expected := append([]*core.EmailRule(nil), rules...)
		Order(expected)
		var want []string
		for _, rule := range expected {
			want = append(want, fmt.Sprintf("id-%d", rule.ID))
		}
		assert.Equal(t, want, email.Labels)

		for i := 1; i < len(expected); i++ {
			prev, cur := expected[i-1], expected[i]
			assert.True(t, prev.Priority > cur.Priority || (prev.Priority == cur.Priority && prev.ID < cur.ID))
		}
	}
}

func TestDeleteHaltsFurtherRules(t *testing.T) {
	env := newTestEnv()
	env.addRule(t, &core.EmailRule{
		Name:     "purge",
		Priority: 10,
		Actions: []core.Action{
			{Type: "delete"},
			{Type: "add_label", Params: map[string]string{"label": "after-delete"}},
		},
	})
	later := env.addRule(t, &core.EmailRule{
		Name:     "label",
		Priority: 5,
		Actions:  []core.Action{{Type: "add_label", Params: map[string]string{"label": "later"}}},
	})
	email := analyzedEmail(t, env)

	outcomes, err := env.engine.Evaluate(context.Background(), email)
	require.NoError(t, err)

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Halted)
	assert.Equal(t, core.StatusDeleted, email.Status)
	assert.Empty(t, email.Labels)

	stored, _ := env.stores.Emails.Get(context.Background(), email.ID)
	assert.Equal(t, core.StatusDeleted, stored.Status)

	r, _ := env.stores.Rules.Get(context.Background(), later.ID)
	assert.Equal(t, int64(0), r.MatchedCount)
}

func TestInvalidRuleIsSkipped(t *testing.T) {
	env := newTestEnv()
	env.addRule(t, &core.EmailRule{
		Name:       "broken",
		Priority:   10,
		Conditions: []core.Condition{{Field: "subject", Operator: "sounds_like", Value: "x"}},
		Actions:    []core.Action{{Type: "delete"}},
	})
	env.addRule(t, &core.EmailRule{
		Name:     "good",
		Priority: 1,
		Actions:  []core.Action{{Type: "flag_for_review"}},
	})
	email := analyzedEmail(t, env)

	outcomes, err := env.engine.Evaluate(context.Background(), email)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "good", outcomes[0].RuleName)
	assert.True(t, email.Flagged)
	assert.Equal(t, core.StatusFlagged, email.Status)
}

func TestActionFailureContinuesWithRemainingActions(t *testing.T) {
	env := newTestEnv()
	env.dispatcher.err = errors.New("smtp down")
	env.addRule(t, &core.EmailRule{
		Name: "mixed",
		Actions: []core.Action{
			{Type: "auto_report"},
			{Type: "mark_status", Params: map[string]string{"status": "pending"}},
			{Type: "add_label", Params: map[string]string{"label": "phish"}},
			{Type: "block_sender"},
		},
	})
	email := analyzedEmail(t, env)

	outcomes, err := env.engine.Evaluate(context.Background(), email)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, []string{"auto_report", "mark_status"}, outcomes[0].Failed)
	assert.Equal(t, []string{"phish"}, email.Labels)
	assert.Equal(t, core.StatusAnalyzed, email.Status)

	prefs, err := env.stores.Preferences.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, prefs.IsBlocked("billing@evil.example"))
}

func TestPreferenceFields(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	require.NoError(t, env.stores.Preferences.Save(ctx, &core.UserPreferences{
		OwnerID:        "alice",
		BlockedSenders: []string{"billing@evil.example"},
	}))
	env.addRule(t, &core.EmailRule{
		Name:       "blocked",
		Conditions: []core.Condition{{Field: "sender_blocked", Operator: "equals", Value: "true"}},
		Actions: []core.Action{
			{Type: "add_label", Params: map[string]string{"label": "blocked"}},
			{Type: "trust_domain", Params: map[string]string{"domain": "partner.example"}},
		},
	})
	env.addRule(t, &core.EmailRule{
		Name:       "trusted",
		Conditions: []core.Condition{{Field: "domain_trusted", Operator: "equals", Value: "true"}},
		Actions:    []core.Action{{Type: "add_label", Params: map[string]string{"label": "trusted"}}},
	})
	email := analyzedEmail(t, env)

	_, err := env.engine.Evaluate(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, []string{"blocked"}, email.Labels)

	prefs, _ := env.stores.Preferences.Get(ctx, "alice")
	assert.True(t, prefs.IsTrusted("mail.partner.example"))
}

func TestAutoReportParameters(t *testing.T) {
	env := newTestEnv()
	rule := env.addRule(t, &core.EmailRule{
		Name: "report",
		Actions: []core.Action{{Type: "auto_report", Params: map[string]string{
			"language":   "de",
			"recipients": "registrar, national_cert, soc@corp.example",
		}}},
	})
	email := analyzedEmail(t, env)

	_, err := env.engine.Evaluate(context.Background(), email)
	require.NoError(t, err)

	require.Len(t, env.dispatcher.requests, 1)
	req := env.dispatcher.requests[0]
	assert.Equal(t, "de", req.Language)
	assert.Equal(t, []core.RecipientType{core.RecipientRegistrar, core.RecipientNationalCERT}, req.Types)
	assert.Equal(t, "soc@corp.example", req.Custom)
	assert.Equal(t, rule.ID, *req.RuleID)
}

func TestOtherOwnersRulesIgnored(t *testing.T) {
	env := newTestEnv()
	env.addRule(t, &core.EmailRule{
		OwnerID: "bob",
		Name:    "bob's rule",
		Actions: []core.Action{{Type: "delete"}},
	})
	email := analyzedEmail(t, env)

	outcomes, err := env.engine.Evaluate(context.Background(), email)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Equal(t, core.StatusAnalyzed, email.Status)
}

func TestConcurrentEvaluationsShareCompiledRule(t *testing.T) {
	env := newTestEnv()
	rule := env.addRule(t, &core.EmailRule{
		Name:       "label phishing",
		Conditions: []core.Condition{{Field: "score", Operator: "greater_than", Value: "50"}},
		Actions:    []core.Action{{Type: "add_label", Params: map[string]string{"label": "phish"}}},
	})
	ctx := context.Background()

	const n = 50
	emails := make([]*core.Email, n)
	for i := range emails {
		emails[i] = &core.Email{
			ID:      fmt.Sprintf("email-%d", i),
			OwnerID: "alice",
			From:    "billing@evil.example",
			Score:   75,
			Status:  core.StatusAnalyzed,
		}
		require.NoError(t, env.stores.Emails.Save(ctx, emails[i]))
	}

	var wg sync.WaitGroup
	outcomes := make([][]core.RuleOutcome, n)
	errs := make([]error, n)
	for i := range emails {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = env.engine.Evaluate(ctx, emails[i])
		}(i)
	}
	wg.Wait()

	for i := range emails {
		require.NoError(t, errs[i])
		require.Len(t, outcomes[i], 1)
		assert.Equal(t, rule.ID, outcomes[i][0].RuleID)
		assert.Equal(t, "label phishing", outcomes[i][0].RuleName)
		assert.Equal(t, []string{"phish"}, emails[i].Labels)
	}
	stored, err := env.stores.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), stored.MatchedCount)
}
