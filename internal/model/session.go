package model

import (
	"fmt"
	"time"
)

// DefaultUserID owns every session in a single-user deployment.
const DefaultUserID = "demo_user"

// ChatSession is a conversation between the user and one agent.
type ChatSession struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	AgentID   AgentID        `json:"agent_id"`
	Title     string         `json:"title,omitempty"`
	IsActive  bool           `json:"is_active"`
	Metadata  map[string]any `json:"session_metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewSessionID derives a session id from the agent and creation time.
// Two sessions for the same agent created within one millisecond collide.
func NewSessionID(agentID AgentID, now time.Time) string {
	return fmt.Sprintf("%s_%d", agentID, now.UnixMilli())
}

// NewSession creates an active session for the agent.
func NewSession(userID string, agent *Agent, now time.Time) *ChatSession {
	if userID == "" {
		userID = DefaultUserID
	}
	return &ChatSession{
		ID:        NewSessionID(agent.ID, now),
		UserID:    userID,
		AgentID:   agent.ID,
		Title:     "Chat with " + agent.Name,
		IsActive:  true,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
