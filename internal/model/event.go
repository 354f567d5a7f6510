package model

import (
	"time"
)

// EventType represents the type of chat event.
type EventType string

const (
	EventTypeError     EventType = "error"
	EventTypeRateLimit EventType = "rate_limit"
	EventTypeCleared   EventType = "cleared"
)

// ChatEvent records something that happened in a session besides a message.
type ChatEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	AgentID   AgentID        `json:"agent_id"`
	Type      EventType      `json:"type"`
	Reason    string         `json:"reason"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
