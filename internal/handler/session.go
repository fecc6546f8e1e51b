package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/WHABGAMES/rafeq-backend-sub002/internal/errors"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/session"
)

// SessionManager is the facade surface the HTTP layer drives.
type SessionManager interface {
	StartQR(ctx context.Context, channelID string) (*session.PairingResult, error)
	StartPhoneCode(ctx context.Context, channelID, phoneNumber string) (*session.PairingResult, error)
	Status(ctx context.Context, channelID string) (*session.StatusResult, error)
	SendText(ctx context.Context, channelID, to, text string) (string, error)
	Close(channelID string) error
	Delete(ctx context.Context, channelID string) error
	Snapshot() []session.Info
}

type SessionHandler struct {
	manager     SessionManager
	pairingGate func(http.Handler) http.Handler
}

func NewSessionHandler(manager SessionManager, pairingGate func(http.Handler) http.Handler) *SessionHandler {
	return &SessionHandler{
		manager:     manager,
		pairingGate: pairingGate,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/channels/{channelID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.pairingGate != nil {
				r.Use(h.pairingGate)
			}
			r.Post("/connect/qr", h.StartQR)
			r.Post("/connect/code", h.StartPhoneCode)
		})
		r.Get("/status", h.GetStatus)
		r.Post("/messages", h.SendMessage)
		r.Post("/disconnect", h.CloseSession)
		r.Delete("/", h.DeleteSession)
	})
	r.Get("/sessions", h.ListSessions)

	return r
}

// POST /v1/channels/{channelID}/connect/qr
func (h *SessionHandler) StartQR(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	result, err := h.manager.StartQR(r.Context(), channelID)
	if err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to start qr session")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type startPhoneCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// POST /v1/channels/{channelID}/connect/code
func (h *SessionHandler) StartPhoneCode(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	var req startPhoneCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.PhoneNumber == "" {
		writeError(w, apperrors.MissingRequired("phoneNumber"))
		return
	}

	result, err := h.manager.StartPhoneCode(r.Context(), channelID, req.PhoneNumber)
	if err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to start phone code session")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /v1/channels/{channelID}/status
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	result, err := h.manager.Status(r.Context(), channelID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// POST /v1/channels/{channelID}/messages
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.To == "" {
		writeError(w, apperrors.MissingRequired("to"))
		return
	}
	if req.Text == "" {
		writeError(w, apperrors.MissingRequired("text"))
		return
	}

	messageID, err := h.manager.SendText(r.Context(), channelID, req.To, req.Text)
	if err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to send message")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"messageId": messageID})
}

// POST /v1/channels/{channelID}/disconnect
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	if err := h.manager.Close(channelID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// DELETE /v1/channels/{channelID}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	if err := h.manager.Delete(r.Context(), channelID); err != nil {
		log.Error().Err(err).Str("channelId", channelID).Msg("failed to delete session")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /v1/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	infos := h.manager.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": infos,
		"count":    len(infos),
	})
}
