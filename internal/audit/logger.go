// Package audit records auth events (challenges, sign-ins, sign-outs, OAuth links) to the audit_logs table.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"otp-identity/backend/internal/audit/domain"
	auditrepo "otp-identity/backend/internal/audit/repository"
)

const resourceAuth = "auth"

type clientIPKey struct{}

// WithClientIP returns a context carrying the caller's IP. Set by the HTTP layer.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the IP stored by WithClientIP, or "unknown".
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// AuditLogger writes a single audit event. Used by the auth service.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, identity string, action domain.Action, metadata string)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo auditrepo.Repository
	nowF func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. A nil repo disables logging.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo, nowF: time.Now}
}

// LogEvent writes one audit log entry. identity should already be redacted.
func (l *Logger) LogEvent(ctx context.Context, userID, identity string, action domain.Action, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Identity:  identity,
		Action:    action,
		Resource:  resourceAuth,
		IP:        ClientIP(ctx),
		Metadata:  metadata,
		CreatedAt: l.nowF().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s: %v", action, err)
	}
}
