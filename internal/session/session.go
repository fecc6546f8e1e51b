// Package session manages the lifecycle of device-paired messaging
// connections: pairing (QR code or phone pairing code), connection event
// handling, reconnection with bounded backoff, credential persistence and
// restoration after process restarts.
package session

import (
	"sync"
	"time"

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/protocol"
)

type Status string

const (
	StatusConnecting        Status = "connecting"
	StatusQRReady           Status = "qr_ready"
	StatusPairingCodeIssued Status = "pairing_code_issued"
	StatusConnected         Status = "connected"
	StatusReconnecting      Status = "reconnecting"
	StatusDisconnected      Status = "disconnected"
)

type PairingMethod string

const (
	MethodQRCode    PairingMethod = "qr_code"
	MethodPhoneCode PairingMethod = "phone_code"
)

// initResult resolves a start call's wait: either a QR payload became
// available or the connection came up on existing credentials.
type initResult struct {
	qr        string
	expiresAt time.Time
	connected bool
}

// Session is one channel's live connection state. All mutation goes through
// its methods; the registry hands out the same *Session to every caller.
type Session struct {
	channelID string
	id        string
	method    PairingMethod

	mu            sync.Mutex
	status        Status
	client        protocol.Client
	qrPayload     string
	qrExpiresAt   time.Time
	pairingCode   string
	codeExpiresAt time.Time
	phoneNumber   string
	retryCount    int

	initMu   sync.Mutex
	initCh   chan initResult
	initDone bool
}

// Info is the diagnostics view of a session.
type Info struct {
	ChannelID   string        `json:"channelId"`
	SessionID   string        `json:"sessionId"`
	Status      Status        `json:"status"`
	Method      PairingMethod `json:"method"`
	PhoneNumber string        `json:"phoneNumber,omitempty"`
	RetryCount  int           `json:"retryCount"`
}

func newSession(channelID, id string, method PairingMethod, client protocol.Client) *Session {
	return &Session{
		channelID: channelID,
		id:        id,
		method:    method,
		status:    StatusConnecting,
		client:    client,
		initCh:    make(chan initResult, 1),
	}
}

func (s *Session) ChannelID() string     { return s.channelID }
func (s *Session) ID() string            { return s.id }
func (s *Session) Method() PairingMethod { return s.method }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *Session) Client() protocol.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) PhoneNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phoneNumber
}

func (s *Session) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

func (s *Session) setQRReady(payload string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusQRReady
	s.qrPayload = payload
	s.qrExpiresAt = expiresAt
	s.pairingCode = ""
	s.codeExpiresAt = time.Time{}
}

func (s *Session) setPairingCode(code string, expiresAt time.Time, phoneNumber string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusPairingCodeIssued
	s.pairingCode = code
	s.codeExpiresAt = expiresAt
	s.phoneNumber = phoneNumber
	s.qrPayload = ""
	s.qrExpiresAt = time.Time{}
}

// markConnected applies the connection-opened transition: transient pairing
// fields cleared, retry counter reset, identity captured.
func (s *Session) markConnected(phoneNumber string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusConnected
	s.qrPayload = ""
	s.qrExpiresAt = time.Time{}
	s.pairingCode = ""
	s.codeExpiresAt = time.Time{}
	s.retryCount = 0
	if phoneNumber != "" {
		s.phoneNumber = phoneNumber
	}
}

// bumpRetry increments the consecutive-disconnect counter if another attempt
// is allowed, and reports the new count.
func (s *Session) bumpRetry(maxRetries int) (count int, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retryCount >= maxRetries {
		return s.retryCount, false
	}
	s.retryCount++
	return s.retryCount, true
}

// replaceClient swaps in a fresh connection handle for a reconnect attempt.
// The caller must have detached and closed the previous one.
func (s *Session) replaceClient(client protocol.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
}

// resolveInit completes the one-shot initiation signal. Later resolutions
// are ignored; only the first QR/connected/timeout outcome counts.
func (s *Session) resolveInit(res initResult) {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initDone {
		return
	}
	s.initDone = true
	s.initCh <- res
}

// teardown unregisters all event listeners and then closes the connection
// handle, so a closing connection's events cannot race a successor session
// for the same channel.
func (s *Session) teardown() {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}
	client.SetConnectionHandler(nil)
	client.SetCredentialHandler(nil)
	client.SetMessageHandler(nil)
	// Closing an already-dead socket is routine during teardown.
	_ = client.Close()
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ChannelID:   s.channelID,
		SessionID:   s.id,
		Status:      s.status,
		Method:      s.method,
		PhoneNumber: s.phoneNumber,
		RetryCount:  s.retryCount,
	}
}
