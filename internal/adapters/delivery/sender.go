// Package delivery delivers abuse reports through an SMTP relay.
package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// TLS modes
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// Config configures the relay connection
type Config struct {
	Host      string
	Port      int
	TLSMode   string
	TLSVerify bool
	Username  string
	Password  string
	Timeout   time.Duration
	// HeloName defaults to the hostname
	HeloName string
}

// Sender implements core.SMTPSender
type Sender struct {
	cfg    Config
	logger *zap.Logger
	dialer *net.Dialer
}

// NewSender creates a relay sender
func NewSender(cfg Config, logger *zap.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSStartTLS
	}
	if cfg.HeloName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		cfg.HeloName = hostname
	}
	return &Sender{
		cfg:    cfg,
		logger: logger,
		dialer: &net.Dialer{Timeout: cfg.Timeout},
	}
}

// Send implements core.SMTPSender. Failures are returned as
// *core.DeliveryError; 5xx replies and configuration problems are permanent.
func (s *Sender) Send(ctx context.Context, from string, to []string, msg []byte) error {
	if s.cfg.Host == "" {
		return &core.DeliveryError{Err: errors.New("smtp relay host not configured"), Permanent: true}
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))

	c, err := s.connect(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()

	envelopeFrom := core.ExtractAddress(from)
	if err := c.Mail(envelopeFrom, nil); err != nil {
		return classify("MAIL FROM failed", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(core.ExtractAddress(rcpt), nil); err != nil {
			return classify("RCPT TO failed", err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return classify("DATA command failed", err)
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return &core.DeliveryError{Err: fmt.Errorf("failed to write message: %w", err)}
	}
	if err := wc.Close(); err != nil {
		return classify("message rejected", err)
	}

	if err := c.Quit(); err != nil {
		// The message is already accepted
		s.logger.Warn("QUIT command failed", zap.String("relay", addr), zap.Error(err))
	}
	s.logger.Debug("Message relayed",
		zap.String("relay", addr),
		zap.Strings("to", to))
	return nil
}

func (s *Sender) connect(ctx context.Context, addr string) (*smtp.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !s.cfg.TLSVerify,
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &core.DeliveryError{Err: fmt.Errorf("failed to connect to %s: %w", addr, err)}
	}
	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, &core.DeliveryError{Err: fmt.Errorf("failed to set connection deadline: %w", err)}
	}

	var c *smtp.Client
	switch s.cfg.TLSMode {
	case TLSStartTLS:
		// The client greets as localhost before the upgrade and uses
		// HeloName once the session is encrypted
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return nil, startTLSError(addr, err)
		}
	case TLSImplicit:
		c = smtp.NewClient(tls.Client(conn, tlsConfig))
	default:
		c = smtp.NewClient(conn)
	}

	if err := c.Hello(s.cfg.HeloName); err != nil {
		c.Close()
		return nil, classify("EHLO failed", err)
	}
	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, classify("authentication failed", err)
		}
	}
	return c, nil
}

// classify wraps err as a DeliveryError, permanent for 5xx replies
func classify(op string, err error) error {
	var smtpErr *smtp.SMTPError
	permanent := errors.As(err, &smtpErr) && smtpErr.Code >= 500
	return &core.DeliveryError{Err: fmt.Errorf("%s: %w", op, err), Permanent: permanent}
}

// startTLSError classifies a failed upgrade. A relay that never offered
// STARTTLS will not start offering it on a retry.
func startTLSError(addr string, err error) error {
	var smtpErr *smtp.SMTPError
	var netErr net.Error
	switch {
	case errors.As(err, &smtpErr):
		return classify("STARTTLS failed", err)
	case errors.As(err, &netErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &core.DeliveryError{Err: fmt.Errorf("STARTTLS failed: %w", err)}
	default:
		return &core.DeliveryError{Err: fmt.Errorf("relay %s does not support STARTTLS: %w", addr, err), Permanent: true}
	}
}
