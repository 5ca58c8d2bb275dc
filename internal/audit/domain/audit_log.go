package domain

import "time"

// Action names an audited auth event.
type Action string

const (
	ActionChallengeIssued Action = "challenge_issued"
	ActionChallengeFailed Action = "challenge_failed"
	ActionRegister        Action = "register"
	ActionLogin           Action = "login"
	ActionLoginFailure    Action = "login_failure"
	ActionLogout          Action = "logout"
	ActionOAuthLinked     Action = "oauth_linked"
	ActionOAuthRejected   Action = "oauth_rejected"
	ActionTokenRefresh    Action = "token_refresh"
	ActionProfileUpdate   Action = "profile_update"
	ActionAccountDeleted  Action = "account_deleted"
	ActionResetRequested  Action = "password_reset_requested"
	ActionPasswordReset   Action = "password_reset"
)

// AuditLog represents an audit event. UserID is empty when the event has no resolved user.
// Identity is the redacted email or phone the event concerns.
type AuditLog struct {
	ID        string
	UserID    string
	Identity  string
	Action    Action
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
