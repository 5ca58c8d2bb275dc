// Package email delivers notifications over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"

	"otp-identity/backend/internal/notify"
)

const defaultSubject = "Your verification code"

// Sender is the part of *gomail.Dialer the provider uses.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPProvider sends plain-text mail through an SMTP relay.
type SMTPProvider struct {
	sender Sender
	from   string
}

// NewSMTPProvider returns a provider that dials host:port with the given credentials for every message.
func NewSMTPProvider(host string, port int, user, password, from string) *SMTPProvider {
	return NewSMTPProviderWithSender(gomail.NewDialer(host, port, user, password), from)
}

// NewSMTPProviderWithSender returns a provider using sender. Used by tests.
func NewSMTPProviderWithSender(sender Sender, from string) *SMTPProvider {
	return &SMTPProvider{sender: sender, from: from}
}

// Deliver sends msg.Text to msg.Destination.
func (p *SMTPProvider) Deliver(ctx context.Context, msg notify.Message) error {
	if msg.Destination == "" {
		return errors.New("email: empty destination")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := msg.Subject
	if subject == "" {
		subject = defaultSubject
	}
	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", msg.Destination)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", msg.Text)
	if err := p.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}
