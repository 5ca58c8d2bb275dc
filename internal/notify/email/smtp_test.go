package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gopkg.in/gomail.v2"

	"otp-identity/backend/internal/notify"
)

type fakeSender struct {
	msgs []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.msgs = append(f.msgs, m...)
	return f.err
}

func TestSMTPProvider_Deliver(t *testing.T) {
	s := &fakeSender{}
	p := NewSMTPProviderWithSender(s, "no-reply@example.com")
	err := p.Deliver(context.Background(), notify.Message{
		Channel:     notify.ChannelEmail,
		Destination: "alice@example.com",
		Text:        "Your code is 123456",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(s.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(s.msgs))
	}
	m := s.msgs[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "alice@example.com" {
		t.Errorf("To = %v", got)
	}
	if got := m.GetHeader("From"); len(got) != 1 || got[0] != "no-reply@example.com" {
		t.Errorf("From = %v", got)
	}
	if got := m.GetHeader("Subject"); len(got) != 1 || got[0] != defaultSubject {
		t.Errorf("Subject = %v", got)
	}
}

func TestSMTPProvider_SendError(t *testing.T) {
	p := NewSMTPProviderWithSender(&fakeSender{err: errors.New("connection refused")}, "from@example.com")
	err := p.Deliver(context.Background(), notify.Message{Destination: "bob@example.com"})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v", err)
	}
}

func TestSMTPProvider_EmptyDestination(t *testing.T) {
	s := &fakeSender{}
	p := NewSMTPProviderWithSender(s, "from@example.com")
	if err := p.Deliver(context.Background(), notify.Message{}); err == nil {
		t.Fatal("expected error")
	}
	if len(s.msgs) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestSMTPProvider_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeSender{}
	p := NewSMTPProviderWithSender(s, "from@example.com")
	if err := p.Deliver(ctx, notify.Message{Destination: "x@example.com"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
