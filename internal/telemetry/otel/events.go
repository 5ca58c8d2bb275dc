package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"otp-identity/backend/internal/events"
)

const instrumentationName = "otp-identity/backend"

// recordEmitter is the part of otellog.Logger the emitter uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// EventEmitter sends identity events as OTel log records.
type EventEmitter struct {
	logger recordEmitter
}

// NewEventEmitter returns an events.Emitter on provider's logger. A nil provider yields nil,
// which events.Multi and events.EmitAsync skip.
func NewEventEmitter(provider *sdklog.LoggerProvider) events.Emitter {
	if provider == nil {
		return nil
	}
	return &EventEmitter{logger: provider.Logger(instrumentationName)}
}

func (e *EventEmitter) Emit(ctx context.Context, ev *events.Event) error {
	if ev == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue(string(ev.Type)))
	rec.AddAttributes(otellog.String("event_type", string(ev.Type)))
	if ev.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", ev.UserID))
	}
	if ev.Method != "" {
		rec.AddAttributes(otellog.String("method", string(ev.Method)))
	}
	if ev.Provider != "" {
		rec.AddAttributes(otellog.String("provider", ev.Provider))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
