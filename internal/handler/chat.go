package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeline/internal/middleware"
	"github.com/capitalize-ai/lifeline/internal/service"
	"github.com/capitalize-ai/lifeline/internal/storage"
	"github.com/capitalize-ai/lifeline/pkg/logger"
)

// SendMessageRequest is the body of a send.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse reports the chat after a send. Sent is false when the
// send was ignored.
type SendMessageResponse struct {
	Sent bool              `json:"sent"`
	Chat service.ChatState `json:"chat"`
}

// ChatHandler serves the chat screens.
type ChatHandler struct {
	service *service.ChatService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: svc,
		logger:  log,
	}
}

// Open handles POST /api/v1/agents/{agentID}/chat
func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentParam(w, r)
	if !ok {
		return
	}

	chat, err := h.service.SelectAgent(r.Context(), agentID)
	if err != nil {
		if !errors.Is(err, service.ErrAgentNotFound) {
			middleware.LoggerFrom(r.Context(), h.logger).Error("failed to open chat",
				zap.String("agent_id", string(agentID)),
				zap.Error(err),
			)
		}
		writeServiceError(w, err, storage.ErrSaveSession.Error())
		return
	}

	writeJSON(w, http.StatusOK, chat.Snapshot())
}

// Get handles GET /api/v1/agents/{agentID}/chat
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.agentChat(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, chat.Snapshot())
}

// Send handles POST /api/v1/agents/{agentID}/chat/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.agentChat(w, r)
	if !ok {
		return
	}
	h.send(w, r, chat)
}

// Clear handles DELETE /api/v1/agents/{agentID}/chat/messages
func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.agentChat(w, r)
	if !ok {
		return
	}
	h.clear(w, r, chat)
}

// StarterPrompt handles POST /api/v1/agents/{agentID}/chat/starter-prompts/{index}
func (h *ChatHandler) StarterPrompt(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.agentChat(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid starter prompt index")
		return
	}
	if _, err := chat.SelectStarterPrompt(index); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chat.Snapshot())
}

// DefaultGet handles GET /api/v1/chat
func (h *ChatHandler) DefaultGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.DefaultChat(r.Context()).Snapshot())
}

// DefaultSend handles POST /api/v1/chat/messages
func (h *ChatHandler) DefaultSend(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, h.service.DefaultChat(r.Context()))
}

// DefaultClear handles DELETE /api/v1/chat/messages
func (h *ChatHandler) DefaultClear(w http.ResponseWriter, r *http.Request) {
	h.clear(w, r, h.service.DefaultChat(r.Context()))
}

func (h *ChatHandler) agentChat(w http.ResponseWriter, r *http.Request) (*service.Chat, bool) {
	agentID, ok := agentParam(w, r)
	if !ok {
		return nil, false
	}

	chat, err := h.service.ChatFor(agentID)
	if err != nil {
		writeServiceError(w, err, "failed to load chat")
		return nil, false
	}
	return chat, true
}

func (h *ChatHandler) send(w http.ResponseWriter, r *http.Request, chat *service.Chat) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	content, err := middleware.ValidateMessageContent(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sent, err := chat.Send(r.Context(), content)
	if err != nil {
		if errors.Is(err, storage.ErrSaveMessage) {
			writeError(w, http.StatusInternalServerError, storage.ErrSaveMessage.Error())
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "Failed to send message",
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, SendMessageResponse{
		Sent: sent,
		Chat: chat.Snapshot(),
	})
}

func (h *ChatHandler) clear(w http.ResponseWriter, r *http.Request, chat *service.Chat) {
	if err := chat.Clear(r.Context()); err != nil {
		middleware.LoggerFrom(r.Context(), h.logger).Error("failed to clear chat", zap.Error(err))
		writeError(w, http.StatusInternalServerError, storage.ErrClearMessages.Error())
		return
	}
	writeJSON(w, http.StatusOK, chat.Snapshot())
}
