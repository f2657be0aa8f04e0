package realtime

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Subprotocol is the only WebSocket subprotocol the feed speaks.
const Subprotocol = "postline.sessions.v1"

// Version is the envelope format version.
const Version = 1

// Envelope types sent by the server.
const (
	TypeReady   = "session.ready"
	TypeRevoked = "session.revoked"
)

// Envelope frames every message on the feed.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// ReadyPayload acknowledges a new subscription.
type ReadyPayload struct {
	UserID string `json:"userId"`
}

// RevokedPayload tells the client its refresh tokens are gone.
type RevokedPayload struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

func newEnvelope(typ string, payload any, ts time.Time) (Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String(),
		TS:      ts,
		Payload: p,
	}, nil
}
