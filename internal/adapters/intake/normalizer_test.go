package intake

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/mikey/phishguard/internal/analyzer"
	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const multipartMessage = "Received: from mx2.corp.example by mx1.corp.example; Mon, 2 Jun 2025 10:00:02 +0000\r\n" +
	"Received: from unknown ([203.0.113.9]) by mx2.corp.example; Mon, 2 Jun 2025 10:00:01 +0000\r\n" +
	"From: \"PayPal Billing\" <Billing@PayPa1-Secure.tk>\r\n" +
	"To: Alice <alice@corp.example>, bob@corp.example\r\n" +
	"Subject: =?UTF-8?Q?Verify_payment_n=C3=B6w?=\r\n" +
	"Date: Mon, 2 Jun 2025 10:00:00 +0000\r\n" +
	"X-Phishguard-Dkim: pass\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please verify your account at http://paypa1-secure.tk/login now.\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Please <a href=\"http://paypa1-secure.tk/login\">verify</a> or visit https://evil.example/x</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"invoice.exe\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"TVqQAAMAAAAEAAAA\r\n" +
	"--outer--\r\n"

func newTestNormalizer(cfg NormalizerConfig) *Normalizer {
	return NewNormalizer(cfg, nil, zap.NewNop())
}

func TestNormalizeMultipart(t *testing.T) {
	n := newTestNormalizer(NormalizerConfig{})
	email, err := n.Normalize(context.Background(), []byte(multipartMessage), Envelope{})
	require.NoError(t, err)

	assert.NotEmpty(t, email.ID)
	assert.Equal(t, core.StatusPending, email.Status)
	assert.Equal(t, "billing@paypa1-secure.tk", email.From)
	assert.Equal(t, []string{"alice@corp.example", "bob@corp.example"}, email.To)
	assert.Equal(t, "alice@corp.example", email.OwnerID)
	assert.Equal(t, "Verify payment nöw", email.Subject)
	assert.Equal(t, 2025, email.ReceivedDate.Year())

	assert.Contains(t, email.Body, "Please verify your account")
	assert.Contains(t, email.HTMLBody, "<a href=")
	assert.Equal(t, []string{"http://paypa1-secure.tk/login", "https://evil.example/x"}, email.URLs)

	require.Len(t, email.Attachments, 1)
	assert.Equal(t, "invoice.exe", email.Attachments[0].Filename)
	assert.Equal(t, "application/octet-stream", email.Attachments[0].MimeType)
	assert.Equal(t, int64(12), email.Attachments[0].Size)

	received := email.Header("Received")
	require.Len(t, received, 2)
	assert.Contains(t, received[0], "mx2.corp.example by mx1")
	assert.Contains(t, received[1], "203.0.113.9")

	// Upstream verdict headers are not trusted
	assert.Empty(t, email.Header(analyzer.DKIMResultHeader))
}

func TestNormalizeEnvelopeWins(t *testing.T) {
	n := newTestNormalizer(NormalizerConfig{DefaultOwner: "postmaster"})
	raw := "From: a@b.example\r\nSubject: hi\r\n\r\nbody\r\n"

	email, err := n.Normalize(context.Background(), []byte(raw), Envelope{
		From: "bounce@b.example",
		To:   []string{"Carol@Corp.Example"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a@b.example", email.From)
	assert.Equal(t, []string{"Carol@Corp.Example"}, email.To)
	assert.Equal(t, "carol@corp.example", email.OwnerID)

	email, err = n.Normalize(context.Background(), []byte(raw), Envelope{})
	require.NoError(t, err)
	assert.Equal(t, "postmaster", email.OwnerID)

	email, err = n.Normalize(context.Background(), []byte(raw), Envelope{OwnerID: "SOC"})
	require.NoError(t, err)
	assert.Equal(t, "soc", email.OwnerID)
}

func TestNormalizeHTMLOnly(t *testing.T) {
	n := newTestNormalizer(NormalizerConfig{})
	raw := "From: a@b.example\r\nContent-Type: text/html; charset=utf-8\r\n\r\n" +
		"<html><body><h1>Account suspended</h1><p>Click <a href=\"https://bad.example/r\">here</a></p></body></html>\r\n"

	email, err := n.Normalize(context.Background(), []byte(raw), Envelope{})
	require.NoError(t, err)
	assert.Contains(t, email.Body, "Account suspended")
	assert.NotContains(t, email.Body, "<h1>")
	assert.Equal(t, []string{"https://bad.example/r"}, email.URLs)
}

func TestNormalizeEmpty(t *testing.T) {
	n := newTestNormalizer(NormalizerConfig{})
	_, err := n.Normalize(context.Background(), []byte("  \r\n"), Envelope{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestNormalizeTruncatesBody(t *testing.T) {
	n := newTestNormalizer(NormalizerConfig{MaxBodyBytes: 16})
	raw := "From: a@b.example\r\n\r\n" + strings.Repeat("x", 100) + "\r\n"

	email, err := n.Normalize(context.Background(), []byte(raw), Envelope{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(email.Body, strings.Repeat("x", 16)))
	assert.True(t, strings.HasSuffix(email.Body, "[... truncated ...]"))
}

func signMessage(t *testing.T, raw string) (string, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var signed bytes.Buffer
	err = dkim.Sign(&signed, strings.NewReader(raw), &dkim.SignOptions{
		Domain:   "b.example",
		Selector: "sel",
		Signer:   priv,
	})
	require.NoError(t, err)
	record := "v=DKIM1; k=ed25519; p=" + base64.StdEncoding.EncodeToString(pub)
	return signed.String(), record
}

func TestNormalizeDKIM(t *testing.T) {
	raw := "From: a@b.example\r\nTo: c@corp.example\r\nSubject: hello\r\n\r\nHello world\r\n"
	signed, record := signMessage(t, raw)

	lookup := func(_ context.Context, domain string) ([]string, error) {
		if domain == "sel._domainkey.b.example" {
			return []string{record}, nil
		}
		return nil, errors.New("no such host")
	}

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"valid signature", signed, "pass"},
		{"tampered body", strings.Replace(signed, "Hello world", "Hello w0rld", 1), "fail"},
		{"unsigned", raw, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(NormalizerConfig{VerifyDKIM: true})
			n.lookupTXT = lookup

			email, err := n.Normalize(context.Background(), []byte(tt.raw), Envelope{})
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, email.Header(analyzer.DKIMResultHeader))
		})
	}
}
