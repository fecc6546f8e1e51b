package model

import "time"

// Channel is the merchant-facing channel record. Its full lifecycle is owned
// elsewhere; the session manager reads it at startup and writes status,
// identity and the serialized credential blob as side effects of connection
// state transitions.
type Channel struct {
	ID             string        `db:"id" json:"id"`
	Status         ChannelStatus `db:"status" json:"status"`
	PhoneNumber    *string       `db:"phone_number" json:"phoneNumber,omitempty"`
	SessionID      *string       `db:"session_id" json:"sessionId,omitempty"`
	AuthState      []byte        `db:"auth_state" json:"-"`
	ConnectedAt    *time.Time    `db:"connected_at" json:"connectedAt,omitempty"`
	DisconnectedAt *time.Time    `db:"disconnected_at" json:"disconnectedAt,omitempty"`
	LastError      *string       `db:"last_error" json:"lastError,omitempty"`
	LastErrorAt    *time.Time    `db:"last_error_at" json:"lastErrorAt,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updatedAt"`
}
