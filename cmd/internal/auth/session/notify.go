package session

import "context"

// Revocation reasons published with EventSessionsRevoked.
const (
	ReasonReuseDetected   = "reuse_detected"
	ReasonPasswordChanged = "password_changed"
	ReasonUserDeleted     = "user_deleted"
	ReasonRevokeAll       = "revoke_all"
)

// EventSessionsRevoked is the only event kind published today.
const EventSessionsRevoked = "session.revoked"

// Event describes a change to a user's sessions.
type Event struct {
	Kind   string
	UserID string
	Reason string
}

// Notifier receives session events. Publish must not block on slow consumers.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// Observer counts auth outcomes (metrics).
type Observer interface {
	AuthEvent(event, result string)
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Event) {}

type nopObserver struct{}

func (nopObserver) AuthEvent(string, string) {}
