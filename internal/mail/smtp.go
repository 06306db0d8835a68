package mail

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/rnblock/api-key-provider/internal/config"
)

// Sender delivers a rendered message
type Sender interface {
	Send(ctx context.Context, msg *Rendered) error
}

// dialer is the part of gomail.Dialer used here
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends mail through an SMTP relay
type SMTPSender struct {
	from   string
	dialer dialer
}

// NewSMTPSender builds a sender from the SMTP settings. STARTTLS is negotiated when the
// server offers it; UseTLS switches to implicit TLS.
func NewSMTPSender(cfg config.SMTPConfig, from string) *SMTPSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.UseTLS
	return &SMTPSender{from: from, dialer: d}
}

// Send builds a multipart message and delivers it
func (s *SMTPSender) Send(ctx context.Context, msg *Rendered) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.build(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) build(msg *Rendered) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)
	return m
}
