package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/ports"
	"go.uber.org/zap"
)

// IDHeader is prepended to forwarded messages so they can be matched to
// their stored record
const IDHeader = "X-Phishguard-Id"

// SMTPConfig configures the content filter listener
type SMTPConfig struct {
	ListenAddr      string
	Domain          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	MaxRecipients   int
	// OwnerID overrides the owner derived from the first recipient
	OwnerID string
}

// SMTPServer accepts messages over SMTP, normalizes them and hands them to
// the intake handler. With a forwarder configured it acts as a Postfix
// content filter and re-injects every accepted message.
type SMTPServer struct {
	cfg        SMTPConfig
	normalizer *Normalizer
	handler    ports.IntakeHandler
	forwarder  core.SMTPSender
	logger     *zap.Logger

	server   *smtp.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSMTPServer creates the SMTP intake. forwarder may be nil.
func NewSMTPServer(
	cfg SMTPConfig,
	normalizer *Normalizer,
	handler ports.IntakeHandler,
	forwarder core.SMTPSender,
	logger *zap.Logger,
) *SMTPServer {
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 30 * 1024 * 1024
	}
	if cfg.MaxRecipients <= 0 {
		cfg.MaxRecipients = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SMTPServer{
		cfg:        cfg,
		normalizer: normalizer,
		handler:    handler,
		forwarder:  forwarder,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start listens on the configured address and serves in the background
func (s *SMTPServer) Start() error {
	s.server = smtp.NewServer(&smtpBackend{server: s})
	s.server.Addr = s.cfg.ListenAddr
	s.server.Domain = s.cfg.Domain
	s.server.ReadTimeout = s.cfg.ReadTimeout
	s.server.WriteTimeout = s.cfg.WriteTimeout
	s.server.MaxMessageBytes = s.cfg.MaxMessageBytes
	s.server.MaxRecipients = s.cfg.MaxRecipients

	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = l
	s.logger.Info("SMTP intake starting", zap.String("address", l.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(l); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			s.logger.Error("SMTP intake error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listener address
func (s *SMTPServer) Addr() string {
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and all sessions
func (s *SMTPServer) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	err := s.server.Close()
	s.wg.Wait()
	return err
}

// accept processes one message received in a session
func (s *SMTPServer) accept(raw []byte, env Envelope) error {
	email, err := s.normalizer.Normalize(s.ctx, raw, env)
	if err != nil {
		s.logger.Warn("Rejecting unparseable message",
			zap.String("sender", env.From),
			zap.Error(err))
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be parsed",
		}
	}

	if s.forwarder != nil {
		fwd := withIDHeader(raw, email.ID)
		if err := s.forwarder.Send(s.ctx, env.From, env.To, fwd); err != nil {
			s.logger.Error("Failed to re-inject message",
				zap.String("email_id", email.ID),
				zap.Error(err))
			return &smtp.SMTPError{
				Code:         451,
				EnhancedCode: smtp.EnhancedCode{4, 4, 0},
				Message:      "Next hop unavailable, try again later",
			}
		}
	}

	if err := s.handler(s.ctx, email); err != nil {
		s.logger.Warn("Intake handler refused message",
			zap.String("email_id", email.ID),
			zap.Error(err))
		// The message was already delivered downstream, only its analysis is lost
		if s.forwarder != nil {
			return nil
		}
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporarily unable to accept message",
		}
	}

	s.logger.Debug("Accepted message",
		zap.String("email_id", email.ID),
		zap.String("sender", email.From),
		zap.Int("recipients", len(env.To)))
	return nil
}

func withIDHeader(raw []byte, id string) []byte {
	var buf bytes.Buffer
	buf.Grow(len(raw) + len(IDHeader) + len(id) + 4)
	fmt.Fprintf(&buf, "%s: %s\r\n", IDHeader, id)
	buf.Write(raw)
	return buf.Bytes()
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	server *SMTPServer
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{server: b.server}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	server     *SMTPServer
	sender     string
	recipients []string
}

func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.server.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}
	return s.server.accept(raw, Envelope{
		From:    s.sender,
		To:      append([]string(nil), s.recipients...),
		OwnerID: s.server.cfg.OwnerID,
	})
}

func (s *smtpSession) Logout() error {
	return nil
}
