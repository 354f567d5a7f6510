package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UnsavedSessionID is used for messages of a chat that has no stored session.
const UnsavedSessionID = "demo_session"

// MaxInputLength is the number of characters accepted from the input box.
const MaxInputLength = 1000

// MetadataAgentID is the metadata key naming the agent that wrote a reply.
const MetadataAgentID = "agent_id"

// ChatMessage is a single turn in a session.
type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessageID returns a time-ordered message id.
func NewMessageID() string {
	return "msg_" + uuid.Must(uuid.NewV7()).String()
}

// NewUserMessage creates a message typed by the user.
func NewUserMessage(sessionID, content string, now time.Time) *ChatMessage {
	return &ChatMessage{
		ID:        NewMessageID(),
		SessionID: sessionID,
		Role:      RoleUser,
		Content:   content,
		Metadata:  map[string]any{},
		CreatedAt: now,
	}
}

// NewAssistantMessage creates a reply from the agent.
func NewAssistantMessage(sessionID string, agentID AgentID, content string, now time.Time) *ChatMessage {
	return &ChatMessage{
		ID:        NewMessageID(),
		SessionID: sessionID,
		Role:      RoleAssistant,
		Content:   content,
		Metadata:  map[string]any{MetadataAgentID: string(agentID)},
		CreatedAt: now,
	}
}

// TruncateInput cuts text to MaxInputLength characters.
func TruncateInput(text string) string {
	if utf8.RuneCountInString(text) <= MaxInputLength {
		return text
	}
	var b strings.Builder
	n := 0
	for _, r := range text {
		if n == MaxInputLength {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
