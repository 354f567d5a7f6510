package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeline/internal/middleware"
	"github.com/capitalize-ai/lifeline/internal/model"
	"github.com/capitalize-ai/lifeline/internal/service"
	"github.com/capitalize-ai/lifeline/internal/storage"
	"github.com/capitalize-ai/lifeline/pkg/logger"
)

// HistoryReader replays the messages published for a session.
type HistoryReader interface {
	History(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error)
}

// SessionHandler serves stored sessions and the profile screen.
type SessionHandler struct {
	service *service.ChatService
	history HistoryReader
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler. history may be nil.
func NewSessionHandler(svc *service.ChatService, history HistoryReader, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		history: history,
		logger:  log,
	}
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.service.Sessions(r.Context()),
	})
}

// Messages handles GET /api/v1/sessions/{sessionID}/messages
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": h.service.Messages(r.Context(), sessionID),
	})
}

// History handles GET /api/v1/sessions/{sessionID}/history
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "message history is not enabled")
		return
	}
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	messages, err := h.history.History(r.Context(), sessionID, limit)
	if err != nil {
		middleware.LoggerFrom(r.Context(), h.logger).Error("failed to read history",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// Delete handles DELETE /api/v1/sessions/{sessionID}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, storage.ErrDeleteSession.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Profile handles GET /api/v1/profile
func (h *SessionHandler) Profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats(r.Context()))
}

// ClearAll handles DELETE /api/v1/data
func (h *SessionHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, storage.ErrClearAllData.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionID")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
