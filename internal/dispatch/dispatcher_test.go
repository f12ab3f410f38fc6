package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikey/phishguard/internal/adapters/store"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	// errs is consumed one per call; nil entries succeed
	errs []error
	msgs [][]byte
}

func (f *fakeSender) Send(_ context.Context, from string, to []string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, to[0])
	f.msgs = append(f.msgs, msg)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type mapTemplates map[string]*core.ReportTemplate

func (m mapTemplates) GetTemplate(lang string) (*core.ReportTemplate, error) {
	if t, ok := m[lang]; ok {
		return t, nil
	}
	return nil, core.ErrTemplateMissing
}

func (m mapTemplates) Languages() []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
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

type fakeSummarizer struct {
	summary string
	err     error
}

func (f fakeSummarizer) Summarize(context.Context, *core.Email) (string, error) {
	return f.summary, f.err
}

var testTemplates = mapTemplates{
	"en": {Language: "en", Subject: "Phishing report: {{.SenderDomain}}", Body: "Score {{.Score}}\nURLs: {{join .URLs \", \"}}\n{{if .Summary}}Summary: {{.Summary}}\n{{end}}{{.Excerpt}}"},
	"de": {Language: "de", Subject: "Phishing-Meldung: {{.SenderDomain}}", Body: "Bewertung {{.Score}}"},
}

type testEnv struct {
	stores     *store.Stores
	sender     *fakeSender
	events     *recordingPublisher
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T, errs ...error) *testEnv {
	t.Helper()
	env := &testEnv{
		stores: store.NewMemory(),
		sender: &fakeSender{errs: errs},
		events: &recordingPublisher{},
	}
	env.dispatcher = NewDispatcher(Config{
		From:            "PhishGuard <abuse-desk@corp.example>",
		DefaultLanguage: "en",
		Policy:          retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		CloudAbuse:      DefaultCloudAbuse(),
		CERTContacts:    DefaultCERTContacts(),
	}, testTemplates, env.sender, env.stores.Reports, env.stores.Emails, env.events, nil, nil, zap.NewNop())
	return env
}

func analyzedEmail() *core.Email {
	analyzedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &core.Email{
		ID:        "e1",
		OwnerID:   "alice",
		From:      "Billing <billing@paypa1-secure.tk>",
		Subject:   "Verify your account",
		Body:      "Please verify payment at http://paypa1-secure.tk/login",
		URLs:      []string{"http://paypa1-secure.tk/login"},
		Score:     72,
		RiskLevel: core.RiskHigh,
		Status:    core.StatusAnalyzed,
		DomainInfo: &core.DomainInfo{
			Domain:       "paypa1-secure.tk",
			Registrar:    "Freenom",
			AbuseContact: "abuse@freenom.example",
		},
		IPInfo: &core.IPInfo{
			IP:              "3.5.1.2",
			Country:         "US",
			IsCloudProvider: true,
			Provider:        "aws",
		},
		AnalyzedAt: &analyzedAt,
	}
}

func TestDispatchSendsToEveryRecipient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	email := analyzedEmail()
	require.NoError(t, env.stores.Emails.Save(ctx, email))

	reports, err := env.dispatcher.Dispatch(ctx, email, core.DispatchRequest{Language: "en"})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.Equal(t, []string{"abuse@freenom.example", "abuse@amazonaws.com", "report@cisa.gov"}, env.sender.calls)
	for _, r := range reports {
		assert.Equal(t, core.ReportSent, r.Status)
		assert.Equal(t, 1, r.RetryCount)
		assert.NotNil(t, r.SentAt)
		assert.Equal(t, "Phishing report: paypa1-secure.tk", r.Subject)
		assert.Contains(t, r.Content, "hxxp://paypa1-secure[.]tk/login")
	}

	stored, err := env.stores.Emails.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReported, stored.Status)
	assert.NotNil(t, stored.ReportedAt)
	assert.Len(t, env.events.events, 3)
	assert.Equal(t, core.EventReportSent, env.events.events[0].Type)

	msg := string(env.sender.msgs[0])
	assert.Contains(t, msg, "Subject: Phishing report: paypa1-secure.tk")
	assert.Contains(t, msg, "Auto-Submitted: auto-generated")
	assert.Contains(t, msg, "Message-Id:")
}

func TestDispatchRetriesThenFails(t *testing.T) {
	transient := &core.DeliveryError{Err: errors.New("421 try later")}
	env := newTestEnv(t, transient, transient, transient)
	ctx := context.Background()
	email := analyzedEmail()
	require.NoError(t, env.stores.Emails.Save(ctx, email))

	reports, err := env.dispatcher.Dispatch(ctx, email, core.DispatchRequest{
		Types: []core.RecipientType{core.RecipientRegistrar},
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, core.ReportFailed, r.Status)
	assert.Equal(t, 3, r.RetryCount)
	assert.Contains(t, r.ErrorMessage, "421 try later")
	assert.Nil(t, r.SentAt)
	assert.Len(t, env.sender.calls, 3)

	stored, err := env.stores.Reports.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ReportFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)

	// Nothing was delivered so the email stays analyzed
	e, err := env.stores.Emails.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusAnalyzed, e.Status)
	assert.Equal(t, core.EventReportFailed, env.events.events[0].Type)
}

func TestDispatchRecoversOnSecondAttempt(t *testing.T) {
	env := newTestEnv(t, &core.DeliveryError{Err: errors.New("451 greylisted")})
	ctx := context.Background()
	email := analyzedEmail()

	reports, err := env.dispatcher.Dispatch(ctx, email, core.DispatchRequest{
		Types: []core.RecipientType{core.RecipientRegistrar},
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, core.ReportSent, reports[0].Status)
	assert.Equal(t, 2, reports[0].RetryCount)
	assert.Empty(t, reports[0].ErrorMessage)
}

func TestDispatchPermanentErrorStopsRetrying(t *testing.T) {
	env := newTestEnv(t, &core.DeliveryError{Err: errors.New("550 no such user"), Permanent: true})
	ctx := context.Background()

	reports, err := env.dispatcher.Dispatch(ctx, analyzedEmail(), core.DispatchRequest{
		Types: []core.RecipientType{core.RecipientRegistrar},
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, core.ReportFailed, reports[0].Status)
	assert.Equal(t, 1, reports[0].RetryCount)
	assert.Len(t, env.sender.calls, 1)
}

func TestDispatchSkipsAlreadySentRecipients(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	email := analyzedEmail()

	first, err := env.dispatcher.Dispatch(ctx, email, core.DispatchRequest{})
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := env.dispatcher.Dispatch(ctx, email, core.DispatchRequest{Custom: "soc@corp.example"})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "soc@corp.example", second[0].RecipientEmail)
	assert.Equal(t, core.RecipientCustom, second[0].RecipientType)
	assert.Len(t, env.sender.calls, 4)

	all, err := env.stores.Reports.ListByEmail(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDispatchRetriesPreviouslyFailedRecipient(t *testing.T) {
	permanent := &core.DeliveryError{Err: errors.New("554 rejected"), Permanent: true}
	env := newTestEnv(t, permanent)
	ctx := context.Background()
	email := analyzedEmail()
	req := core.DispatchRequest{Types: []core.RecipientType{core.RecipientRegistrar}}

	first, err := env.dispatcher.Dispatch(ctx, email, req)
	require.NoError(t, err)
	require.Equal(t, core.ReportFailed, first[0].Status)

	second, err := env.dispatcher.Dispatch(ctx, email, req)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, core.ReportSent, second[0].Status)
}

func TestDispatchNoRecipients(t *testing.T) {
	env := newTestEnv(t)
	email := analyzedEmail()
	email.DomainInfo = nil
	email.IPInfo = nil
	email.From = "someone@example.com"

	reports, err := env.dispatcher.Dispatch(context.Background(), email, core.DispatchRequest{})
	assert.ErrorIs(t, err, core.ErrNoRecipients)
	assert.Nil(t, reports)
	assert.Empty(t, env.sender.calls)
}

func TestDispatchLanguageFallback(t *testing.T) {
	tests := []struct {
		name     string
		language string
		want     string
	}{
		{name: "exact", language: "de", want: "de"},
		{name: "region falls back to base", language: "de-AT", want: "de"},
		{name: "unknown uses default", language: "ja", want: "en"},
		{name: "invalid uses default", language: "not a tag!", want: "en"},
		{name: "empty uses default", language: "", want: "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tmpl, err := env.dispatcher.selectTemplate(tt.language)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tmpl.Language)
		})
	}
}

func TestDispatchMissingDefaultTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.templates = mapTemplates{}

	_, err := env.dispatcher.Dispatch(context.Background(), analyzedEmail(), core.DispatchRequest{Language: "fr"})
	assert.ErrorIs(t, err, core.ErrTemplateMissing)
	assert.Empty(t, env.sender.calls)
}

func TestDispatchIncludesSummary(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.summarizer = fakeSummarizer{summary: "  Credential harvesting lure.  "}

	reports, err := env.dispatcher.Dispatch(context.Background(), analyzedEmail(), core.DispatchRequest{
		Types: []core.RecipientType{core.RecipientRegistrar},
	})
	require.NoError(t, err)
	assert.Contains(t, reports[0].Content, "Summary: Credential harvesting lure.\n")
}

func TestDispatchSummaryFailureIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.summarizer = fakeSummarizer{err: errors.New("model unavailable")}

	reports, err := env.dispatcher.Dispatch(context.Background(), analyzedEmail(), core.DispatchRequest{
		Types: []core.RecipientType{core.RecipientRegistrar},
	})
	require.NoError(t, err)
	assert.Equal(t, core.ReportSent, reports[0].Status)
	assert.False(t, strings.Contains(reports[0].Content, "Summary:"))
}

func TestDispatchInvalidRecipientFailsReport(t *testing.T) {
	env := newTestEnv(t)
	email := analyzedEmail()
	email.DomainInfo.AbuseContact = "abuse@@broken"

	reports, err := env.dispatcher.Dispatch(context.Background(), email, core.DispatchRequest{
		Types: []core.RecipientType{core.RecipientRegistrar},
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, core.ReportFailed, reports[0].Status)
	assert.Empty(t, env.sender.calls)
}

func TestDispatchContinuesAfterRenderFailure(t *testing.T) {
	env := newTestEnv(t)
	// index out of range fails only while rendering the registrar report
	env.dispatcher.templates = mapTemplates{
		"en": {Language: "en", Subject: "Phishing report", Body: `{{if eq .RecipientType "registrar"}}{{index .Flags 5}}{{end}}Score {{.Score}}`},
	}
	ctx := context.Background()
	email := analyzedEmail()
	require.NoError(t, env.stores.Emails.Save(ctx, email))

	reports, err := env.dispatcher.Dispatch(ctx, email, core.DispatchRequest{})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, []string{"abuse@amazonaws.com", "report@cisa.gov"}, env.sender.calls)

	stored, err := env.stores.Emails.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReported, stored.Status)
}

func TestDispatchFailsWhenNoReportCanBeRendered(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.templates = mapTemplates{
		"en": {Language: "en", Subject: "Phishing report", Body: "{{index .Flags 5}}"},
	}
	ctx := context.Background()
	email := analyzedEmail()
	require.NoError(t, env.stores.Emails.Save(ctx, email))

	reports, err := env.dispatcher.Dispatch(ctx, email, core.DispatchRequest{})
	require.Error(t, err)
	assert.Empty(t, reports)
	assert.Empty(t, env.sender.calls)

	stored, err := env.stores.Emails.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusAnalyzed, stored.Status)
}
