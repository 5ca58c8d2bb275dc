package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the identity service counters. A nil *Metrics records nothing.
type Metrics struct {
	challengesIssued metric.Int64Counter
	verifications    metric.Int64Counter
	deliveries       metric.Int64Counter
	signIns          metric.Int64Counter
}

// NewMetrics creates the counters on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	var (
		m   Metrics
		err error
	)
	if m.challengesIssued, err = meter.Int64Counter("identity.challenges.issued",
		metric.WithDescription("OTP challenges created or refreshed")); err != nil {
		return nil, err
	}
	if m.verifications, err = meter.Int64Counter("identity.challenges.verifications",
		metric.WithDescription("OTP submissions by result")); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("identity.notifications.deliveries",
		metric.WithDescription("Notification delivery attempts by channel and outcome")); err != nil {
		return nil, err
	}
	if m.signIns, err = meter.Int64Counter("identity.sign_ins",
		metric.WithDescription("Successful sign-ins by method")); err != nil {
		return nil, err
	}
	return &m, nil
}

// ChallengeIssued counts a new or refreshed challenge for purpose.
func (m *Metrics) ChallengeIssued(ctx context.Context, purpose string) {
	if m == nil {
		return
	}
	m.challengesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("purpose", purpose)))
}

// Verification counts one code submission with its result (verified, invalid, expired, locked).
func (m *Metrics) Verification(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Delivery counts one notification attempt.
func (m *Metrics) Delivery(ctx context.Context, channel string, delivered bool) {
	if m == nil {
		return
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("delivered", delivered),
	))
}

// SignIn counts a successful sign-in by method.
func (m *Metrics) SignIn(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.signIns.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}
