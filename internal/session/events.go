package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/events"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/protocol"
)

// wireEvents attaches the connection event handlers to a connection handle.
// Wiring happens exactly once per handle, regardless of whether the handle
// came from a start call, a startup restore or a reconnect, so every event
// flows through the same interpretation path. Handlers run synchronously in
// the client's delivery order; channel-record writes stay on the event path
// so they apply in that order, while credential mirroring and notifications
// are dispatched off it.
func (m *Manager) wireEvents(s *Session, client protocol.Client) {
	client.SetConnectionHandler(func(u protocol.ConnectionUpdate) {
		m.handleConnectionUpdate(s, client, u)
	})
	client.SetCredentialHandler(func() {
		go m.persistCredentials(s.ChannelID())
	})
	client.SetMessageHandler(func(msg protocol.IncomingMessage) {
		m.handleMessage(s, msg)
	})
}

func (m *Manager) handleConnectionUpdate(s *Session, client protocol.Client, u protocol.ConnectionUpdate) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("channelId", s.ChannelID()).
				Msg("connection event handler panicked")
			s.setStatus(StatusDisconnected)
		}
	}()

	switch u.State {
	case protocol.StateQR:
		m.handleQR(s, u.QR)
	case protocol.StateOpen:
		m.handleOpen(s, client)
	case protocol.StateClosed:
		m.handleClose(s, u.Reason)
	}
}

// handleQR stores a fresh QR payload. A QR event on a phone-code session is
// meaningless and ignored, and vice versa for pairing-code responses.
func (m *Manager) handleQR(s *Session, payload string) {
	if s.Method() != MethodQRCode {
		log.Debug().
			Str("channelId", s.ChannelID()).
			Str("method", string(s.Method())).
			Msg("ignoring QR event for non-QR session")
		return
	}
	if s.Status() == StatusConnected {
		return
	}

	expiresAt := time.Now().Add(m.opts.PairingWindow)
	s.setQRReady(payload, expiresAt)
	s.resolveInit(initResult{qr: payload, expiresAt: expiresAt})

	log.Info().
		Str("channelId", s.ChannelID()).
		Time("expiresAt", expiresAt).
		Msg("qr payload available")

	m.notify(events.TypeQRAvailable, s.ChannelID(), map[string]any{
		"qrPayload": payload,
		"expiresAt": expiresAt,
	})
}

// handleOpen applies the connected transition: transient pairing state is
// cleared, the retry counter resets, the identity is read back from the
// client, and the credential bundle is persisted immediately.
func (m *Manager) handleOpen(s *Session, client protocol.Client) {
	phone := client.PhoneNumber()
	s.markConnected(phone)
	s.resolveInit(initResult{connected: true})

	log.Info().
		Str("channelId", s.ChannelID()).
		Str("phoneNumber", phone).
		Msg("session connected")

	channelID := s.ChannelID()
	sessionID := s.ID()

	// The channel-record write stays on the event path: a close delivered
	// after this open must find the connected write already applied, or its
	// disconnected write could be overtaken by an in-flight goroutine.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := m.channels.MarkConnected(ctx, channelID, phone, sessionID); err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to mark channel connected")
	}
	cancel()

	go func() {
		m.persistCredentials(channelID)
		m.notify(events.TypeConnected, channelID, map[string]any{
			"sessionId":   sessionID,
			"phoneNumber": phone,
		})
	}()
}

func (m *Manager) handleMessage(s *Session, msg protocol.IncomingMessage) {
	m.notify(events.TypeMessageReceived, s.ChannelID(), map[string]any{
		"messageId": msg.ID,
		"from":      msg.From,
		"text":      msg.Text,
		"timestamp": msg.Timestamp,
	})
}

// persistCredentials runs the dual write (files already on disk, mirrored to
// the channel record). Failures are logged and swallowed: losing one
// rotation write is non-fatal, the next rotation retries.
func (m *Manager) persistCredentials(channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.creds.Save(ctx, channelID); err != nil {
		log.Warn().Err(err).Str("channelId", channelID).Msg("credential persistence failed")
	}
}

func (m *Manager) notify(t events.Type, channelID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to marshal notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.notifier.Publish(ctx, events.Event{
		Type:      t,
		ChannelID: channelID,
		Data:      data,
	}); err != nil {
		log.Warn().Err(err).Str("type", string(t)).Str("channelId", channelID).Msg("failed to publish notification")
	}
}
