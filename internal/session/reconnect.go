package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/events"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/protocol"
)

// handleClose classifies an involuntary disconnect and decides the session's
// fate: terminal logout destroys it, a transient close schedules a silent
// resume with linear capped backoff until the retry budget runs out.
func (m *Manager) handleClose(s *Session, reason protocol.CloseReason) {
	log.Info().
		Str("channelId", s.ChannelID()).
		Str("reason", string(reason)).
		Int("retryCount", s.RetryCount()).
		Msg("connection closed")

	if reason.Terminal() {
		m.handleLogout(s)
		return
	}

	count, allowed := s.bumpRetry(m.opts.MaxRetries)
	if !allowed {
		s.setStatus(StatusDisconnected)
		m.markChannelDown(s.ChannelID(),
			"Connection lost and reconnection attempts exhausted; start a new session to re-pair")
		m.notify(events.TypeRetriesExhausted, s.ChannelID(), map[string]any{
			"retryCount": count,
		})
		return
	}

	// Persist before retrying so a crash mid-backoff can still resume.
	m.persistCredentials(s.ChannelID())
	s.setStatus(StatusReconnecting)

	delay := reconnectDelay(count, m.opts.ReconnectBaseDelay, m.opts.ReconnectCapDelay)
	log.Info().
		Str("channelId", s.ChannelID()).
		Int("retryCount", count).
		Dur("delay", delay).
		Msg("scheduling reconnect")

	time.AfterFunc(delay, func() {
		m.reconnect(s)
	})
}

// handleLogout is the terminal path: the user removed this device from
// their phone, so the credential bundle is permanently invalid. The session
// and both halves of the bundle are deleted, never recycled.
func (m *Manager) handleLogout(s *Session) {
	m.registry.Remove(s.ChannelID(), s)
	s.teardown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.creds.Purge(ctx, s.ChannelID()); err != nil {
		log.Error().Err(err).Str("channelId", s.ChannelID()).Msg("failed to purge credentials after logout")
	}

	m.markChannelDown(s.ChannelID(),
		"Logged out from the paired device; re-pair the channel to reconnect")
	m.notify(events.TypeLoggedOut, s.ChannelID(), map[string]any{
		"sessionId": s.ID(),
	})

	log.Info().Str("channelId", s.ChannelID()).Msg("session logged out and deleted")
}

// reconnect attempts a silent resume on the existing credential bundle.
// Nothing is purged here. Any failure leaves the session Disconnected
// instead of propagating.
func (m *Manager) reconnect(s *Session) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("channelId", s.ChannelID()).
				Msg("reconnect attempt panicked")
			s.setStatus(StatusDisconnected)
		}
	}()

	// A new start call may have replaced this session during the backoff.
	if m.registry.Get(s.ChannelID()) != s {
		log.Debug().Str("channelId", s.ChannelID()).Msg("reconnect abandoned, session superseded")
		return
	}

	s.teardown()

	client, err := m.factory.NewClient(m.creds.Dir(s.ChannelID()))
	if err != nil {
		m.failReconnect(s, err)
		return
	}
	s.replaceClient(client)
	m.wireEvents(s, client)

	// A purge that evicted the session between the first check and the swap
	// has already run its teardown against the old handle; this one must not
	// outlive the eviction. Eviction always removes from the registry before
	// tearing down, so a re-check here closes the window.
	if m.registry.Get(s.ChannelID()) != s {
		log.Debug().Str("channelId", s.ChannelID()).Msg("reconnect abandoned, session superseded")
		s.teardown()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.InitiationTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		m.failReconnect(s, err)
		return
	}

	log.Info().
		Str("channelId", s.ChannelID()).
		Int("retryCount", s.RetryCount()).
		Msg("reconnect attempt started")
}

func (m *Manager) failReconnect(s *Session, err error) {
	log.Warn().Err(err).Str("channelId", s.ChannelID()).Msg("reconnect attempt failed")
	s.setStatus(StatusDisconnected)
	m.markChannelDown(s.ChannelID(), "Reconnection failed; start a new session to re-pair")
}

func (m *Manager) markChannelDown(channelID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.channels.MarkDisconnected(ctx, channelID, message); err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to mark channel disconnected")
	}
}

// reconnectDelay is linear backoff capped at a ceiling: predictable and
// bounded rather than exponential.
func reconnectDelay(retryCount int, base, ceiling time.Duration) time.Duration {
	d := base * time.Duration(retryCount)
	if d > ceiling {
		return ceiling
	}
	return d
}
