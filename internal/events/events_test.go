package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*Event
	done   chan struct{}
}

func (r *recordingEmitter) Emit(ctx context.Context, e *Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if r.done != nil {
		close(r.done)
	}
	return nil
}

func TestKafkaProducer_Emit(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "identity-events"}
	e := &Event{Type: UserCreated, UserID: "u1", Method: MethodEmailOTP, OccurredAt: time.Unix(1700000000, 0).UTC()}
	if err := p.Emit(context.Background(), e); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u1" {
		t.Errorf("Key = %q, want u1", msg.Key)
	}
	var got Event
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Type != UserCreated || got.Method != MethodEmailOTP {
		t.Errorf("payload = %+v", got)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close: %v closed=%v", err, w.closed)
	}
}

func TestKafkaProducer_NilAndUnconfigured(t *testing.T) {
	if p := NewKafkaProducer(nil, "topic"); p != nil {
		t.Error("no brokers should yield nil producer")
	}
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &Event{Type: UserLogin}); err != nil {
		t.Errorf("nil producer Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil producer Close: %v", err)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recordingEmitter{}
	failing := &KafkaProducer{writer: &fakeWriter{err: errors.New("broker down")}}
	err := Multi{ok, nil, failing}.Emit(context.Background(), &Event{Type: UserLogin, UserID: "u1"})
	if err == nil {
		t.Fatal("want joined error")
	}
	if len(ok.events) != 1 {
		t.Error("healthy emitter should still receive the event")
	}
}

func TestEmitAsync(t *testing.T) {
	r := &recordingEmitter{done: make(chan struct{})}
	EmitAsync(r, &Event{Type: UserLogout, UserID: "u1"})
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("async emit did not run")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events[0].OccurredAt.IsZero() {
		t.Error("OccurredAt should be stamped")
	}
	EmitAsync(nil, &Event{})
	EmitAsync(r, nil)
}
