package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/lifeline/internal/middleware"
	"github.com/capitalize-ai/lifeline/internal/model"
	"github.com/capitalize-ai/lifeline/internal/service"
)

// AgentHandler serves the agent catalog.
type AgentHandler struct {
	service *service.ChatService
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(svc *service.ChatService) *AgentHandler {
	return &AgentHandler{service: svc}
}

// List handles GET /api/v1/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": h.service.ListAgents(r.Context()),
	})
}

// Get handles GET /api/v1/agents/{agentID}
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentParam(w, r)
	if !ok {
		return
	}

	agent, err := h.service.Agent(agentID)
	if err != nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// agentParam reads and validates the {agentID} route parameter.
func agentParam(w http.ResponseWriter, r *http.Request) (model.AgentID, bool) {
	id := chi.URLParam(r, "agentID")
	if err := middleware.ValidateAgentID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return model.AgentID(id), true
}

// writeServiceError maps service errors to responses.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, service.ErrChatNotOpen):
		writeError(w, http.StatusNotFound, "chat not open")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
