package events

import (
	"context"
	"encoding/json"
	"time"
)

// HeartbeatInterval is how often SSE streams send a keep-alive comment.
const HeartbeatInterval = 30 * time.Second

// Type names the notifications the session manager emits for business-logic
// collaborators (automation dispatch, portal UIs).
type Type string

const (
	TypeQRAvailable      Type = "qr.available"
	TypeConnected        Type = "session.connected"
	TypeLoggedOut        Type = "session.logged_out"
	TypeRetriesExhausted Type = "session.retries_exhausted"
	TypeMessageReceived  Type = "message.received"
)

type Event struct {
	Type      Type            `json:"type"`
	ChannelID string          `json:"channelId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Notifier publishes session notifications. The manager treats publish
// failures as non-fatal.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}
