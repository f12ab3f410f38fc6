// Package intake turns raw RFC 5322 messages into normalized emails and
// accepts them over SMTP or from files.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-msgauth/dkim"
	"github.com/google/uuid"
	"github.com/k3a/html2text"
	"github.com/mikey/phishguard/internal/analyzer"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/utils"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned for input without any content
var ErrEmptyMessage = errors.New("empty message")

// Envelope carries the SMTP envelope, which takes precedence over headers
type Envelope struct {
	From    string
	To      []string
	OwnerID string
}

// NormalizerConfig configures message normalization
type NormalizerConfig struct {
	// VerifyDKIM checks DKIM signatures and records the verdict in a header
	VerifyDKIM  bool
	DKIMTimeout time.Duration
	// MaxBodyBytes caps the stored text and HTML bodies
	MaxBodyBytes int
	// DefaultOwner is used when neither the envelope nor the headers name one
	DefaultOwner string
}

// Normalizer parses raw messages
type Normalizer struct {
	cfg       NormalizerConfig
	text      *utils.TextProcessor
	logger    *zap.Logger
	lookupTXT func(ctx context.Context, domain string) ([]string, error)
	now       func() time.Time
}

// NewNormalizer creates a message normalizer
func NewNormalizer(cfg NormalizerConfig, text *utils.TextProcessor, logger *zap.Logger) *Normalizer {
	if cfg.DKIMTimeout <= 0 {
		cfg.DKIMTimeout = 5 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if text == nil {
		text = utils.NewTextProcessor(logger)
	}
	return &Normalizer{
		cfg:       cfg,
		text:      text,
		logger:    logger,
		lookupTXT: net.DefaultResolver.LookupTXT,
		now:       time.Now,
	}
}

// Normalize parses a raw message into a pending email
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, env Envelope) (*core.Email, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err != nil {
		n.logger.Debug("Message uses an unknown charset or encoding", zap.Error(err))
	}

	hdr := mail.Header{Header: entity.Header}
	email := &core.Email{
		ID:        uuid.NewString(),
		Headers:   collectHeaders(entity.Header),
		Status:    core.StatusPending,
		CreatedAt: n.now().UTC(),
	}

	if subject, err := hdr.Subject(); err == nil {
		email.Subject = subject
	} else {
		email.Subject = hdr.Get("Subject")
	}
	if from, err := hdr.AddressList("From"); err == nil && len(from) > 0 {
		email.From = strings.ToLower(from[0].Address)
	} else if env.From != "" {
		email.From = strings.ToLower(core.ExtractAddress(env.From))
	} else {
		email.From = strings.ToLower(core.ExtractAddress(hdr.Get("From")))
	}
	if len(env.To) > 0 {
		email.To = append(email.To, env.To...)
	} else if to, err := hdr.AddressList("To"); err == nil {
		for _, a := range to {
			email.To = append(email.To, a.Address)
		}
	}
	if date, err := hdr.Date(); err == nil && !date.IsZero() {
		email.ReceivedDate = date.UTC()
	} else {
		email.ReceivedDate = email.CreatedAt
	}
	email.OwnerID = n.owner(env, email)

	plain, html, attachments := n.walk(entity)
	email.HTMLBody = n.text.TruncateText(html, n.cfg.MaxBodyBytes)
	if plain == "" && html != "" {
		plain = html2text.HTML2Text(html)
	}
	email.Body = n.text.TruncateText(plain, n.cfg.MaxBodyBytes)
	email.Attachments = attachments
	email.URLs = analyzer.ExtractURLs(plain, html)

	// A verdict header from upstream would let senders vouch for themselves
	delete(email.Headers, textproto.CanonicalMIMEHeaderKey(analyzer.DKIMResultHeader))
	if n.cfg.VerifyDKIM {
		email.Headers[textproto.CanonicalMIMEHeaderKey(analyzer.DKIMResultHeader)] = []string{n.verifyDKIM(ctx, raw, email.ID)}
	}
	return email, nil
}

func (n *Normalizer) owner(env Envelope, email *core.Email) string {
	if env.OwnerID != "" {
		return strings.ToLower(env.OwnerID)
	}
	if len(email.To) > 0 {
		if addr := core.ExtractAddress(email.To[0]); addr != "" {
			return strings.ToLower(addr)
		}
	}
	return n.cfg.DefaultOwner
}

// collectHeaders groups header values by canonical key, keeping the
// top-down order so Received stays newest first
func collectHeaders(h message.Header) map[string][]string {
	out := make(map[string][]string)
	fields := h.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		out[key] = append(out[key], value)
	}
	return out
}

// walk collects the first text/plain and text/html bodies and lists attachments
func (n *Normalizer) walk(entity *message.Entity) (string, string, []core.Attachment) {
	var plain, html string
	var attachments []core.Attachment

	err := entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				return nil
			}
			return err
		}
		mediaType, _, _ := part.Header.ContentType()
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}
		if mediaType == "" {
			mediaType = "text/plain"
		}

		disposition, dispParams, _ := part.Header.ContentDisposition()
		ah := mail.AttachmentHeader{Header: part.Header}
		filename, _ := ah.Filename()
		if filename == "" {
			filename = dispParams["filename"]
		}
		isAttachment := strings.EqualFold(disposition, "attachment") || filename != "" ||
			!strings.HasPrefix(mediaType, "text/")

		if isAttachment {
			size, _ := io.Copy(io.Discard, part.Body)
			attachments = append(attachments, core.Attachment{
				Filename: filename,
				MimeType: strings.ToLower(mediaType),
				Size:     size,
			})
			return nil
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, int64(n.cfg.MaxBodyBytes)+1))
		if err != nil {
			n.logger.Debug("Failed to read message part", zap.String("type", mediaType), zap.Error(err))
			return nil
		}
		switch mediaType {
		case "text/html":
			if html == "" {
				html = n.text.SanitizeUTF8(string(body))
			}
		default:
			if plain == "" {
				plain = n.text.SanitizeUTF8(string(body))
			}
		}
		return nil
	})
	if err != nil {
		n.logger.Debug("Stopped walking malformed message", zap.Error(err))
	}
	return plain, html, attachments
}

// verifyDKIM returns pass when any signature verifies, none when the message
// is unsigned or the keys are temporarily unavailable, and fail otherwise
func (n *Normalizer) verifyDKIM(ctx context.Context, raw []byte, emailID string) string {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.DKIMTimeout)
	defer cancel()

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(raw), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			return n.lookupTXT(ctx, domain)
		},
	})
	if err != nil {
		n.logger.Warn("DKIM verification failed to run",
			zap.String("email_id", emailID),
			zap.Error(err))
		return string(analyzer.AuthNone)
	}
	if len(verifications) == 0 {
		return string(analyzer.AuthNone)
	}

	result := analyzer.AuthFail
	tempOnly := true
	for _, v := range verifications {
		if v.Err == nil {
			return string(analyzer.AuthPass)
		}
		if !dkim.IsTempFail(v.Err) {
			tempOnly = false
		}
		n.logger.Debug("DKIM signature did not verify",
			zap.String("email_id", emailID),
			zap.String("domain", v.Domain),
			zap.Error(v.Err))
	}
	if tempOnly {
		result = analyzer.AuthNone
	}
	return string(result)
}
