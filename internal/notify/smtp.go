package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/logger"
)

const defaultSMTPTimeout = 30 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// SMTP sends the digest as a plain-text email. STARTTLS is used whenever the
// server offers it. With a username set, delivery fails unless the server
// accepts SMTP AUTH.
type SMTP struct {
	cfg    SMTPConfig
	opts   []mail.Option
	logger *zap.Logger
}

func NewSMTP(cfg SMTPConfig, log *zap.Logger) (*SMTP, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp sender is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	return &SMTP{cfg: cfg, opts: opts, logger: logger.OrNop(log)}, nil
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	to := s.recipients(msg)
	if len(to) == 0 {
		return errors.New("smtp: no recipients")
	}

	m, err := s.message(msg, to)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	s.logger.Info("email sent",
		zap.Strings("recipients", to),
		zap.Int("listings", len(msg.Listings)),
	)
	return nil
}

func (s *SMTP) Close() error { return nil }

func (s *SMTP) recipients(msg Message) []string {
	if len(msg.To) > 0 {
		return msg.To
	}
	return s.cfg.To
}

func (s *SMTP) message(msg Message, to []string) (*mail.Msg, error) {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	m := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp sender %q: %w", s.cfg.From, err)
	}
	if err := m.To(to...); err != nil {
		return nil, fmt.Errorf("smtp recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(created)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}
