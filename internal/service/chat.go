// Package service holds the chat screens: the send-message flow and the
// session bookkeeping around it.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeline/internal/llm"
	"github.com/capitalize-ai/lifeline/internal/model"
	"github.com/capitalize-ai/lifeline/internal/storage"
	"github.com/capitalize-ai/lifeline/pkg/logger"
	"github.com/capitalize-ai/lifeline/pkg/metrics"
)

// ErrStarterPromptOutOfRange is returned for a starter prompt index the agent does not have.
var ErrStarterPromptOutOfRange = errors.New("starter prompt index out of range")

// Completer produces an agent reply, retrying failed attempts.
type Completer interface {
	RetryMessage(ctx context.Context, agent model.Agent, prior []model.ChatMessage, userText string, maxAttempts int) (string, error)
}

// EventPublisher receives persisted messages and chat events.
type EventPublisher interface {
	PublishMessage(ctx context.Context, msg *model.ChatMessage) error
	PublishEvent(ctx context.Context, event *model.ChatEvent) error
}

// ChatState is what a chat screen renders.
type ChatState struct {
	Agent          *model.Agent        `json:"agent"`
	Session        *model.ChatSession  `json:"session"`
	Messages       []model.ChatMessage `json:"messages"`
	IsTyping       bool                `json:"is_typing"`
	Draft          string              `json:"draft"`
	Greeting       string              `json:"greeting"`
	StarterPrompts []string            `json:"starter_prompts"`
}

// Chat is one open chat screen. Only one send runs at a time; sends made
// while one is in flight are ignored.
type Chat struct {
	store       *storage.Store
	completer   Completer
	events      EventPublisher
	maxAttempts int
	logger      *logger.Logger
	now         func() time.Time

	mu       sync.Mutex
	agent    *model.Agent
	session  *model.ChatSession
	messages []model.ChatMessage
	typing   bool
	draft    string
}

func newChat(store *storage.Store, completer Completer, events EventPublisher, maxAttempts int, log *logger.Logger, now func() time.Time) *Chat {
	return &Chat{
		store:       store,
		completer:   completer,
		events:      events,
		maxAttempts: maxAttempts,
		logger:      log,
		now:         now,
		messages:    []model.ChatMessage{},
	}
}

// Open binds the chat to agent and loads the session's messages. A nil
// session starts a chat that is never persisted.
func (c *Chat) Open(ctx context.Context, agent model.Agent, session *model.ChatSession) {
	messages := []model.ChatMessage{}
	if session != nil {
		messages = c.store.GetMessages(ctx, session.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.agent = &agent
	c.session = session
	c.messages = messages
	c.typing = false
	c.draft = ""
}

// Send posts text as a user message and waits for the agent's reply.
//
// Text is trimmed before use. It reports false without error when there is
// nothing to do: blank text, no agent, or a send already in flight. The user
// message stays in the chat, and in storage, even when the reply fails; the
// returned error carries the text to show the user.
//
// A send is not cancelled with ctx: once started it runs through the whole
// retry schedule and persists its result.
func (c *Chat) Send(ctx context.Context, text string) (bool, error) {
	text = strings.TrimSpace(text)
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	if text == "" || c.agent == nil || c.typing {
		c.mu.Unlock()
		return false, nil
	}

	agent := *c.agent
	session := c.session
	sessionID := model.UnsavedSessionID
	if session != nil {
		sessionID = session.ID
	}

	prior := append([]model.ChatMessage(nil), c.messages...)
	userMsg := model.NewUserMessage(sessionID, text, c.now())
	c.messages = append(c.messages, *userMsg)
	c.typing = true
	c.draft = ""
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.typing = false
		c.mu.Unlock()
	}()

	log := c.logger.With(
		zap.String("agent_id", string(agent.ID)),
		zap.String("session_id", sessionID),
	)
	metrics.MessagesTotal.WithLabelValues(string(agent.ID), string(model.RoleUser)).Inc()

	if session != nil {
		if err := c.persist(ctx, userMsg); err != nil {
			c.fail(ctx, log, agent.ID, sessionID, err)
			return true, err
		}
	}

	reply, err := c.completer.RetryMessage(ctx, agent, prior, text, c.maxAttempts)
	if err != nil {
		c.fail(ctx, log, agent.ID, sessionID, err)
		return true, err
	}

	aiMsg := model.NewAssistantMessage(sessionID, agent.ID, reply, c.now())
	c.mu.Lock()
	c.messages = append(c.messages, *aiMsg)
	c.mu.Unlock()
	metrics.MessagesTotal.WithLabelValues(string(agent.ID), string(model.RoleAssistant)).Inc()

	if session != nil {
		if err := c.persist(ctx, aiMsg); err != nil {
			c.fail(ctx, log, agent.ID, sessionID, err)
			return true, err
		}
	}

	log.Debug("message exchanged", zap.Int("reply_length", len(reply)))
	return true, nil
}

func (c *Chat) persist(ctx context.Context, msg *model.ChatMessage) error {
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		return err
	}
	if c.events != nil {
		if err := c.events.PublishMessage(ctx, msg); err != nil {
			c.logger.Warn("failed to publish message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (c *Chat) fail(ctx context.Context, log *logger.Logger, agentID model.AgentID, sessionID string, err error) {
	log.Error("error sending message", zap.Error(err))
	metrics.SendFailuresTotal.WithLabelValues(string(agentID)).Inc()

	eventType := model.EventTypeError
	if errors.Is(err, llm.ErrRateLimited) {
		eventType = model.EventTypeRateLimit
	}
	c.publishEvent(ctx, agentID, sessionID, eventType, err.Error())
}

func (c *Chat) publishEvent(ctx context.Context, agentID model.AgentID, sessionID string, eventType model.EventType, reason string) {
	if c.events == nil {
		return
	}
	event := &model.ChatEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		AgentID:   agentID,
		Type:      eventType,
		Reason:    reason,
		CreatedAt: c.now(),
	}
	if err := c.events.PublishEvent(ctx, event); err != nil {
		c.logger.Warn("failed to publish event",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

// Clear removes every message from the chat and, when it has a session,
// from storage. On a storage failure the chat is left untouched.
func (c *Chat) Clear(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	var agentID model.AgentID
	if c.agent != nil {
		agentID = c.agent.ID
	}
	c.mu.Unlock()

	sessionID := model.UnsavedSessionID
	if session != nil {
		sessionID = session.ID
		if err := c.store.ClearMessages(ctx, session.ID); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.messages = []model.ChatMessage{}
	c.mu.Unlock()

	c.publishEvent(ctx, agentID, sessionID, model.EventTypeCleared, "")
	return nil
}

// SelectStarterPrompt copies the agent's i-th starter prompt into the draft.
// Nothing is sent.
func (c *Chat) SelectStarterPrompt(i int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agent == nil || i < 0 || i >= len(c.agent.StarterPrompts) {
		return "", ErrStarterPromptOutOfRange
	}
	c.draft = c.agent.StarterPrompts[i]
	return c.draft, nil
}

// SetDraft replaces the input text, truncated to the input limit.
func (c *Chat) SetDraft(text string) {
	c.mu.Lock()
	c.draft = model.TruncateInput(text)
	c.mu.Unlock()
}

// Session returns the chat's session, or nil for an unsaved chat.
func (c *Chat) Session() *model.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Snapshot returns a copy of the chat's current state.
func (c *Chat) Snapshot() ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := ChatState{
		Messages:       append([]model.ChatMessage{}, c.messages...),
		IsTyping:       c.typing,
		Draft:          c.draft,
		StarterPrompts: []string{},
	}
	if c.agent != nil {
		agent := *c.agent
		state.Agent = &agent
		state.Greeting = agent.Greeting()
		state.StarterPrompts = append(state.StarterPrompts, agent.StarterPrompts...)
	}
	if c.session != nil {
		session := *c.session
		state.Session = &session
	}
	return state
}

// reset drops the chat's messages without touching storage.
func (c *Chat) reset() {
	c.mu.Lock()
	c.messages = []model.ChatMessage{}
	c.draft = ""
	c.mu.Unlock()
}
