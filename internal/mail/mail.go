// Package mail delivers outbound messages such as password reset links.
package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/backoffice/internal/errs"
	gomail "github.com/wneessen/go-mail"
)

// Message is a plain-text mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message or returns an error; it must honor ctx.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SMTPConfig describes one SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
	// Timeout bounds dialing and each command round trip.
	Timeout time.Duration
}

// SMTPSender sends over a fresh SMTP connection per message.
type SMTPSender struct {
	from   string
	client *gomail.Client
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender builds a client for cfg. StartTLS makes TLS mandatory;
// without it the session stays in plaintext.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	policy := gomail.NoTLS
	if cfg.StartTLS {
		policy = gomail.TLSMandatory
	}
	opts := []gomail.Option{gomail.WithTLSPolicy(policy)}
	if cfg.Port > 0 {
		opts = append(opts, gomail.WithPort(cfg.Port))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	c, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{from: cfg.From, client: c}, nil
}

// Send writes m through the relay; ctx bounds the dial.
func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, m.Body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp: %w", err)
	}
	return nil
}

// Disabled is used when no relay is configured; every send fails.
type Disabled struct{}

var _ Sender = Disabled{}

func (Disabled) Send(context.Context, Message) error {
	return fmt.Errorf("%w: no smtp relay configured", errs.ErrMailUnavailable)
}
