// Package protocol defines the contract between the session manager and the
// device-pairing messaging client library. The wire protocol itself lives
// behind this port: deployments link a driver (see Register) and select it
// with PROTOCOL_DRIVER, the same way database/sql binds SQL drivers.
package protocol

import (
	"context"
	"time"
)

// ConnectionState is the coarse state carried by a ConnectionUpdate.
type ConnectionState string

const (
	// StateQR means a fresh QR payload is available for scanning.
	StateQR ConnectionState = "qr"
	// StateOpen means the handshake completed and the socket is usable.
	StateOpen ConnectionState = "open"
	// StateClosed means the socket closed; Reason says why.
	StateClosed ConnectionState = "closed"
)

// CloseReason classifies why a connection closed.
type CloseReason string

const (
	// ReasonLoggedOut: the user removed this device from their phone.
	// The credential bundle is permanently invalid.
	ReasonLoggedOut CloseReason = "logged_out"
	// ReasonConnectionLost: network-level interruption.
	ReasonConnectionLost CloseReason = "connection_lost"
	// ReasonServerClosed: the remote end closed the stream.
	ReasonServerClosed CloseReason = "server_closed"
	// ReasonTimeout: keepalive or handshake deadline exceeded.
	ReasonTimeout CloseReason = "timeout"
	ReasonUnknown CloseReason = "unknown"
)

// Terminal reports whether the credential bundle is invalidated and no
// reconnect may be attempted.
func (r CloseReason) Terminal() bool {
	return r == ReasonLoggedOut
}

// ConnectionUpdate is delivered for every connection-state transition.
type ConnectionUpdate struct {
	State ConnectionState
	// QR carries the raw pairing payload when State == StateQR.
	QR string
	// Reason is valid when State == StateClosed.
	Reason CloseReason
	Err    error
}

// IncomingMessage is a message received on a connected session.
type IncomingMessage struct {
	ID        string
	From      string
	Text      string
	Timestamp time.Time
}

// Client is one live device-paired connection. Handlers must be set before
// Connect and are invoked sequentially in delivery order; setting a nil
// handler detaches it. A Client is not reusable after Close.
type Client interface {
	// Connect starts the socket. It returns once the connection attempt is
	// underway; progress is reported through the connection handler.
	Connect(ctx context.Context) error

	// SetConnectionHandler registers the single handler for connection
	// updates (QR payloads, open, close).
	SetConnectionHandler(fn func(ConnectionUpdate))

	// SetCredentialHandler registers the handler invoked every time the
	// client rewrites key material in its auth-state directory.
	SetCredentialHandler(fn func())

	// SetMessageHandler registers the handler for incoming messages.
	SetMessageHandler(fn func(IncomingMessage))

	// RequestPairingCode asks the server for a numeric pairing code for the
	// given phone number (digits only). Requires the socket to have
	// registered itself; calling too early fails.
	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)

	// SendText sends a text message and returns the provider message id.
	SendText(ctx context.Context, to string, text string) (string, error)

	// PhoneNumber returns the account identity, known once connected.
	PhoneNumber() string

	// Close tears the socket down without invalidating credentials.
	Close() error
}

// Factory builds clients bound to a per-channel auth-state directory. The
// directory holds whatever files the driver needs to silently resume an
// already-paired connection.
type Factory interface {
	NewClient(authDir string) (Client, error)
}
