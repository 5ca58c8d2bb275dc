package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"otp-identity/backend/internal/events"
)

type captureLogger struct {
	mu      sync.Mutex
	records []otellog.Record
}

func (c *captureLogger) Emit(_ context.Context, rec otellog.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func attrs(rec otellog.Record) map[string]string {
	out := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestEventEmitter_Emit(t *testing.T) {
	capture := &captureLogger{}
	e := &EventEmitter{logger: capture}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := e.Emit(context.Background(), &events.Event{
		Type:       events.OAuthLinked,
		UserID:     "user-1",
		Method:     events.MethodOAuth,
		Provider:   "google",
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(capture.records) != 1 {
		t.Fatalf("records = %d, want 1", len(capture.records))
	}
	rec := capture.records[0]
	if !rec.Timestamp().Equal(at) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp(), at)
	}
	if rec.Body().AsString() != string(events.OAuthLinked) {
		t.Errorf("Body = %q", rec.Body().AsString())
	}
	got := attrs(rec)
	want := map[string]string{
		"event_type": string(events.OAuthLinked),
		"user_id":    "user-1",
		"method":     string(events.MethodOAuth),
		"provider":   "google",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attr %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestEventEmitter_OmitsEmptyAttributes(t *testing.T) {
	capture := &captureLogger{}
	e := &EventEmitter{logger: capture}
	_ = e.Emit(context.Background(), &events.Event{Type: events.ChallengeNew})
	got := attrs(capture.records[0])
	if _, ok := got["user_id"]; ok {
		t.Error("empty user_id should be omitted")
	}
	if capture.records[0].Timestamp().IsZero() {
		t.Error("zero OccurredAt should default to now")
	}
}

func TestEventEmitter_NilEvent(t *testing.T) {
	capture := &captureLogger{}
	if err := (&EventEmitter{logger: capture}).Emit(context.Background(), nil); err != nil {
		t.Fatalf("Emit(nil): %v", err)
	}
	if len(capture.records) != 0 {
		t.Error("nil event should not be emitted")
	}
}

func TestNewEventEmitter(t *testing.T) {
	if NewEventEmitter(nil) != nil {
		t.Error("nil provider should yield nil emitter")
	}
	lp := sdklog.NewLoggerProvider()
	defer lp.Shutdown(context.Background())
	if err := NewEventEmitter(lp).Emit(context.Background(), &events.Event{Type: events.UserLogin}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
}
