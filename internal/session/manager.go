package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/config"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/credstore"
	apperrors "github.com/WHABGAMES/rafeq-backend-sub002/internal/errors"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/events"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/model"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/protocol"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/repository"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/util"
)

// Options tune the manager's timing. Zero values fall back to the constants
// in the config package; tests shrink them.
type Options struct {
	MaxRetries         int
	ReconnectBaseDelay time.Duration
	ReconnectCapDelay  time.Duration
	PairingWindow      time.Duration
	InitiationTimeout  time.Duration
	PairingCodeGrace   time.Duration
	PairingCodeRetries int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.ReconnectBaseDelay == 0 {
		o.ReconnectBaseDelay = config.ReconnectBaseDelay
	}
	if o.ReconnectCapDelay == 0 {
		o.ReconnectCapDelay = config.ReconnectCapDelay
	}
	if o.PairingWindow == 0 {
		o.PairingWindow = config.PairingWindow
	}
	if o.InitiationTimeout == 0 {
		o.InitiationTimeout = config.InitiationTimeout
	}
	if o.PairingCodeGrace == 0 {
		o.PairingCodeGrace = config.PairingCodeGrace
	}
	if o.PairingCodeRetries == 0 {
		o.PairingCodeRetries = config.PairingCodeRetries
	}
	return o
}

// Manager composes the registry, pairing flows, event handling, reconnection
// policy and credential persistence behind the public session operations.
type Manager struct {
	registry *Registry
	factory  protocol.Factory
	creds    *credstore.Store
	channels repository.ChannelRepository
	notifier events.Notifier
	opts     Options
}

func NewManager(
	factory protocol.Factory,
	creds *credstore.Store,
	channels repository.ChannelRepository,
	notifier events.Notifier,
	opts Options,
) *Manager {
	return &Manager{
		registry: NewRegistry(),
		factory:  factory,
		creds:    creds,
		channels: channels,
		notifier: notifier,
		opts:     opts.withDefaults(),
	}
}

type PairingResult struct {
	SessionID   string     `json:"sessionId"`
	Status      string     `json:"status"` // "pending" or "connected"
	QRPayload   string     `json:"qrPayload,omitempty"`
	PairingCode string     `json:"pairingCode,omitempty"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type StatusResult struct {
	ChannelID   string `json:"channelId"`
	SessionID   string `json:"sessionId"`
	Status      Status `json:"status"`
	QRPayload   string `json:"qrPayload,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	RetryCount  int    `json:"retryCount"`
}

// StartQR begins a fresh QR pairing for the channel. Any prior session and
// credential material is purged first: a fresh pairing must not reuse stale
// keys. Blocks until a QR payload is available, the connection comes up, or
// the initiation timeout elapses.
func (m *Manager) StartQR(ctx context.Context, channelID string) (*PairingResult, error) {
	if channelID == "" {
		return nil, apperrors.MissingRequired("channelId")
	}

	if err := m.purgeExisting(ctx, channelID); err != nil {
		return nil, err
	}

	s, err := m.openSession(ctx, channelID, MethodQRCode)
	if err != nil {
		return nil, err
	}

	return m.awaitInitiation(ctx, s)
}

// StartPhoneCode begins a fresh phone-code pairing. After the purge-and-
// reconnect preamble it waits a short grace period for the socket to
// register itself, then requests a pairing code for the normalized number,
// retrying once. On failure the session stays registered in a non-connected
// state for the caller to retry or abandon.
func (m *Manager) StartPhoneCode(ctx context.Context, channelID, phoneNumber string) (*PairingResult, error) {
	if channelID == "" {
		return nil, apperrors.MissingRequired("channelId")
	}
	digits, ok := util.NormalizePhone(phoneNumber)
	if !ok {
		return nil, apperrors.InvalidPhoneNumber(phoneNumber)
	}

	if err := m.purgeExisting(ctx, channelID); err != nil {
		return nil, err
	}

	s, err := m.openSession(ctx, channelID, MethodPhoneCode)
	if err != nil {
		return nil, err
	}
	client := s.Client()

	var code string
	var reqErr error
	for attempt := 0; attempt <= m.opts.PairingCodeRetries; attempt++ {
		if err := sleepCtx(ctx, m.opts.PairingCodeGrace); err != nil {
			return nil, apperrors.PairingFailed("cancelled while waiting for socket").WithCause(err)
		}

		// The connect may have silently resumed while we waited.
		if s.Status() == StatusConnected {
			return &PairingResult{
				SessionID:   s.ID(),
				Status:      "connected",
				PhoneNumber: s.PhoneNumber(),
			}, nil
		}

		code, reqErr = client.RequestPairingCode(ctx, digits)
		if reqErr == nil {
			break
		}
		log.Warn().
			Err(reqErr).
			Str("channelId", channelID).
			Int("attempt", attempt+1).
			Msg("pairing code request failed")
	}
	if reqErr != nil {
		m.setChannelError(channelID, fmt.Sprintf("pairing code request failed: %v", reqErr))
		return nil, apperrors.PairingFailed(reqErr.Error()).WithCause(reqErr)
	}

	expiresAt := time.Now().Add(m.opts.PairingWindow)
	s.setPairingCode(code, expiresAt, digits)

	log.Info().
		Str("channelId", channelID).
		Str("sessionId", s.ID()).
		Time("expiresAt", expiresAt).
		Msg("pairing code issued")

	return &PairingResult{
		SessionID:   s.ID(),
		Status:      "pending",
		PairingCode: code,
		PhoneNumber: digits,
		ExpiresAt:   &expiresAt,
	}, nil
}

// Status reports the live session state for a channel.
func (m *Manager) Status(ctx context.Context, channelID string) (*StatusResult, error) {
	s := m.registry.Get(channelID)
	if s == nil {
		return nil, apperrors.SessionNotFound(channelID)
	}
	info := s.info()

	result := &StatusResult{
		ChannelID:   info.ChannelID,
		SessionID:   info.SessionID,
		Status:      info.Status,
		PhoneNumber: info.PhoneNumber,
		RetryCount:  info.RetryCount,
	}

	s.mu.Lock()
	if info.Status == StatusQRReady {
		result.QRPayload = s.qrPayload
	}
	if info.Status == StatusPairingCodeIssued {
		result.PairingCode = s.pairingCode
	}
	s.mu.Unlock()

	return result, nil
}

// SendText sends a text message on a connected session and returns the
// provider message id.
func (m *Manager) SendText(ctx context.Context, channelID, to, text string) (string, error) {
	s := m.registry.Get(channelID)
	if s == nil {
		return "", apperrors.SessionNotFound(channelID)
	}
	if s.Status() != StatusConnected {
		return "", apperrors.SessionNotConnected(channelID)
	}

	id, err := s.Client().SendText(ctx, to, text)
	if err != nil {
		return "", apperrors.SendFailed(err)
	}
	return id, nil
}

// Close tears the session down in memory only; credentials are retained so
// a later restore can silently resume.
func (m *Manager) Close(channelID string) error {
	s := m.registry.Get(channelID)
	if s == nil {
		return apperrors.SessionNotFound(channelID)
	}
	m.registry.Remove(channelID, s)
	s.teardown()

	log.Info().Str("channelId", channelID).Msg("session closed")
	return nil
}

// Delete tears the session down and purges both halves of the credential
// bundle. Succeeds even when no live session exists, so stored credentials
// of an inactive channel can still be removed.
func (m *Manager) Delete(ctx context.Context, channelID string) error {
	if s := m.registry.Get(channelID); s != nil {
		m.registry.Remove(channelID, s)
		s.teardown()
	}

	if err := m.creds.Purge(ctx, channelID); err != nil {
		return apperrors.Internal("failed to purge credentials").WithCause(err)
	}
	if err := m.channels.MarkDisconnected(ctx, channelID, "Session deleted"); err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to mark channel disconnected")
	}

	log.Info().Str("channelId", channelID).Msg("session deleted")
	return nil
}

// Snapshot returns the diagnostics view of all live sessions.
func (m *Manager) Snapshot() []Info {
	return m.registry.Snapshot()
}

// RestoreAll is called once at process start: every channel last known as
// connected gets a silent resume attempt. Channels whose material is gone or
// whose reconnect fails are marked disconnected rather than left claiming a
// liveness that no longer exists. One channel's failure never aborts the
// others.
func (m *Manager) RestoreAll(ctx context.Context) {
	rows, err := m.channels.FindByStatus(ctx, model.ChannelStatusConnected)
	if err != nil {
		log.Error().Err(err).Msg("failed to list connected channels for restore")
		return
	}

	restored := 0
	for _, ch := range rows {
		if err := m.restoreOne(ctx, ch.ID); err != nil {
			log.Warn().Err(err).Str("channelId", ch.ID).Msg("session restore failed")
			if dbErr := m.channels.MarkDisconnected(ctx, ch.ID,
				"Session could not be restored after restart; re-pair the channel"); dbErr != nil {
				log.Error().Err(dbErr).Str("channelId", ch.ID).Msg("failed to mark channel disconnected")
			}
			continue
		}
		restored++
	}

	log.Info().
		Int("candidates", len(rows)).
		Int("restored", restored).
		Msg("startup session restoration finished")
}

func (m *Manager) restoreOne(ctx context.Context, channelID string) error {
	ok, err := m.creds.Restore(ctx, channelID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no credential material for channel %s", channelID)
	}

	// No new pairing is expected on restore; the method is fixed to QR so
	// stray pairing-code events are ignored.
	_, err = m.openSession(ctx, channelID, MethodQRCode)
	return err
}

// PersistAll mirrors every connected session's credentials, best-effort.
// Used by the periodic snapshot job and the shutdown sweep.
func (m *Manager) PersistAll(ctx context.Context) {
	for _, s := range m.registry.All() {
		if s.Status() != StatusConnected {
			continue
		}
		if err := m.creds.Save(ctx, s.ChannelID()); err != nil {
			log.Warn().Err(err).Str("channelId", s.ChannelID()).Msg("credential snapshot failed")
		}
	}
}

// Shutdown persists every live session's credentials and closes all
// connections. Best-effort per channel: one failure does not block the rest.
func (m *Manager) Shutdown(ctx context.Context) {
	sessions := m.registry.All()
	m.PersistAll(ctx)
	for _, s := range sessions {
		m.registry.Remove(s.ChannelID(), s)
		s.teardown()
	}
	log.Info().Int("sessions", len(sessions)).Msg("session manager shut down")
}

// purgeExisting applies the purge-before-create rule: tear down any live
// session and wipe credential material so a fresh pairing starts from zero.
func (m *Manager) purgeExisting(ctx context.Context, channelID string) error {
	if s := m.registry.Get(channelID); s != nil {
		m.registry.Remove(channelID, s)
		s.teardown()
	}
	if err := m.creds.Purge(ctx, channelID); err != nil {
		return apperrors.Internal("failed to purge stale credentials").WithCause(err)
	}
	return nil
}

// openSession is the single connect path shared by fresh pairings, startup
// restore and reconnects-from-scratch. It never purges; callers decide that.
func (m *Manager) openSession(ctx context.Context, channelID string, method PairingMethod) (*Session, error) {
	client, err := m.factory.NewClient(m.creds.Dir(channelID))
	if err != nil {
		return nil, apperrors.External("protocol client", err)
	}

	s := newSession(channelID, uuid.NewString(), method, client)
	m.wireEvents(s, client)
	m.registry.Put(channelID, s)

	if err := m.channels.MarkConnecting(ctx, channelID, s.ID()); err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to mark channel connecting")
	}

	if err := client.Connect(ctx); err != nil {
		s.setStatus(StatusDisconnected)
		m.setChannelError(channelID, fmt.Sprintf("connect failed: %v", err))
		return nil, apperrors.External("protocol client", err)
	}

	log.Info().
		Str("channelId", channelID).
		Str("sessionId", s.ID()).
		Str("method", string(method)).
		Msg("session connecting")
	return s, nil
}

// awaitInitiation blocks on the one-shot initiation signal resolved by the
// event handler, bounded by the initiation timeout.
func (m *Manager) awaitInitiation(ctx context.Context, s *Session) (*PairingResult, error) {
	timer := time.NewTimer(m.opts.InitiationTimeout)
	defer timer.Stop()

	select {
	case res := <-s.initCh:
		if res.connected {
			return &PairingResult{
				SessionID:   s.ID(),
				Status:      "connected",
				PhoneNumber: s.PhoneNumber(),
			}, nil
		}
		expiresAt := res.expiresAt
		return &PairingResult{
			SessionID: s.ID(),
			Status:    "pending",
			QRPayload: res.qr,
			ExpiresAt: &expiresAt,
		}, nil

	case <-timer.C:
		m.abortInitiation(s)
		m.setChannelError(s.ChannelID(), "timed out waiting for initial connection")
		return nil, apperrors.InitiationTimeout(s.ChannelID())

	case <-ctx.Done():
		m.abortInitiation(s)
		return nil, apperrors.InitiationTimeout(s.ChannelID()).WithCause(ctx.Err())
	}
}

// abortInitiation tears a start attempt down after the caller gave up on it,
// so a late QR or open event cannot revive a session already reported as
// failed.
func (m *Manager) abortInitiation(s *Session) {
	s.setStatus(StatusDisconnected)
	m.registry.Remove(s.ChannelID(), s)
	s.teardown()
}

func (m *Manager) setChannelError(channelID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.channels.SetLastError(ctx, channelID, message); err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to record channel error")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
