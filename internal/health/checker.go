// Package health reports readiness over gRPC (grpc.health.v1) and HTTP.
package health

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const pingTimeout = 2 * time.Second

// Pinger checks a dependency (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker implements grpc.health.v1 Health. Status is SERVING when every pinger answers.
type Checker struct {
	healthpb.UnimplementedHealthServer
	pingers []Pinger
}

// NewChecker returns a Checker over pingers. Nil pingers are skipped.
func NewChecker(pingers ...Pinger) *Checker {
	c := &Checker{}
	for _, p := range pingers {
		if p != nil {
			c.pingers = append(c.pingers, p)
		}
	}
	return c
}

// Ready returns the first dependency error, or nil.
func (c *Checker) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	for _, p := range c.pingers {
		if err := p.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Check answers for the whole server (empty service name) only.
func (c *Checker) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if req.GetService() != "" {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	if err := c.Ready(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
