package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordingProvider struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (p *recordingProvider) Deliver(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return p.err
}

type panickingProvider struct{}

func (panickingProvider) Deliver(context.Context, Message) error {
	panic("smtp exploded")
}

func TestDispatcher_Delivered(t *testing.T) {
	email := &recordingProvider{}
	d := NewDispatcher(map[Channel]Provider{ChannelEmail: email})
	out := d.Send(context.Background(), Message{Channel: ChannelEmail, Destination: "alice@example.com", Text: "code 123456"})
	if !out.Delivered {
		t.Fatalf("Outcome = %+v, want delivered", out)
	}
	if len(email.sent) != 1 || email.sent[0].Destination != "alice@example.com" {
		t.Errorf("sent = %+v", email.sent)
	}
}

func TestDispatcher_ProviderError(t *testing.T) {
	d := NewDispatcher(map[Channel]Provider{ChannelSMS: &recordingProvider{err: errors.New("gateway down")}})
	out := d.Send(context.Background(), Message{Channel: ChannelSMS, Destination: "+15551234567"})
	if out.Delivered || out.Reason != "gateway down" {
		t.Errorf("Outcome = %+v", out)
	}
}

func TestDispatcher_NoProvider(t *testing.T) {
	d := NewDispatcher(map[Channel]Provider{ChannelEmail: nil})
	if d.Has(ChannelEmail) {
		t.Error("nil provider should not be registered")
	}
	out := d.Send(context.Background(), Message{Channel: ChannelPush, Destination: "device-1"})
	if out.Delivered || out.Reason != "no provider" {
		t.Errorf("Outcome = %+v", out)
	}
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	d := NewDispatcher(map[Channel]Provider{ChannelEmail: panickingProvider{}})
	out := d.Send(context.Background(), Message{Channel: ChannelEmail, Destination: "bob@example.com"})
	if out.Delivered {
		t.Fatal("panicking provider must not report delivery")
	}
	if out.Reason == "" {
		t.Error("Reason should describe the panic")
	}
}

func TestLogProvider_ReportsLocalTransport(t *testing.T) {
	d := NewDispatcher(map[Channel]Provider{ChannelEmail: LogProvider{}})
	out := d.Send(context.Background(), Message{Channel: ChannelEmail, Destination: "carol@example.com", Code: "123456"})
	if out.Delivered || out.Reason != ErrLocalTransport.Error() {
		t.Errorf("Outcome = %+v", out)
	}
}

func TestRedactDestination(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"alice@example.com", "a***@example.com"},
		{"+15551234567", "********4567"},
		{"123", "***"},
	}
	for _, tt := range tests {
		if got := RedactDestination(tt.in); got != tt.want {
			t.Errorf("RedactDestination(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
