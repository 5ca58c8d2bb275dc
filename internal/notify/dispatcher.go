// Package notify delivers plain-text messages (OTP codes) over email, SMS or push.
// Delivery is best-effort: Send reports an Outcome and never fails its caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Message is one notification. Code is the raw OTP when the message carries one;
// providers with a dedicated OTP route (SMS) use it instead of Text.
type Message struct {
	Channel     Channel
	Destination string
	Subject     string
	Text        string
	Code        string
}

// Outcome is the result of a delivery attempt.
type Outcome struct {
	Delivered bool
	Reason    string
}

// Delivered is the successful Outcome.
var Delivered = Outcome{Delivered: true}

// Failed returns a failed Outcome with the given reason.
func Failed(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Provider delivers a message over one channel.
type Provider interface {
	Deliver(ctx context.Context, msg Message) error
}

// ErrLocalTransport is returned by LogProvider: the message went to the process log, not to the user.
var ErrLocalTransport = errors.New("local transport")

// Dispatcher routes messages to the provider registered for their channel.
// Providers are fixed at construction.
type Dispatcher struct {
	providers map[Channel]Provider
}

// NewDispatcher returns a Dispatcher over the given channel providers. Nil providers are ignored.
func NewDispatcher(providers map[Channel]Provider) *Dispatcher {
	m := make(map[Channel]Provider, len(providers))
	for ch, p := range providers {
		if p != nil {
			m[ch] = p
		}
	}
	return &Dispatcher{providers: m}
}

// Send delivers msg. It never returns an error and never panics; a provider panic becomes a failed Outcome.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (out Outcome) {
	p, ok := d.providers[msg.Channel]
	if !ok {
		log.Printf("notify: no provider for channel=%s destination=%s", msg.Channel, RedactDestination(msg.Destination))
		return Failed("no provider")
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("notify: provider panic channel=%s destination=%s: %v", msg.Channel, RedactDestination(msg.Destination), r)
			out = Failed(fmt.Sprintf("provider panic: %v", r))
		}
	}()
	if err := p.Deliver(ctx, msg); err != nil {
		if !errors.Is(err, ErrLocalTransport) {
			log.Printf("notify: delivery failed channel=%s destination=%s: %v", msg.Channel, RedactDestination(msg.Destination), err)
		}
		return Failed(err.Error())
	}
	return Delivered
}

// Has reports whether a provider is registered for ch.
func (d *Dispatcher) Has(ch Channel) bool {
	_, ok := d.providers[ch]
	return ok
}

// LogProvider writes a redacted line to the process log instead of delivering. It always reports
// ErrLocalTransport so callers treat the message as undelivered.
type LogProvider struct{}

// Deliver logs the destination and subject. The code and body are never logged.
func (LogProvider) Deliver(_ context.Context, msg Message) error {
	log.Printf("notify: [log transport] channel=%s destination=%s subject=%q", msg.Channel, RedactDestination(msg.Destination), msg.Subject)
	return ErrLocalTransport
}

// RedactDestination masks an email address or phone number for logging.
func RedactDestination(dest string) string {
	if dest == "" {
		return ""
	}
	if at := strings.LastIndex(dest, "@"); at > 0 {
		return dest[:1] + "***" + dest[at:]
	}
	if len(dest) <= 4 {
		return "***"
	}
	return strings.Repeat("*", len(dest)-4) + dest[len(dest)-4:]
}
