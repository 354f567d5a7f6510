package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeline/internal/catalog"
	"github.com/capitalize-ai/lifeline/internal/llm"
	"github.com/capitalize-ai/lifeline/internal/model"
	"github.com/capitalize-ai/lifeline/internal/storage"
	"github.com/capitalize-ai/lifeline/pkg/logger"
	"github.com/capitalize-ai/lifeline/pkg/metrics"
)

var (
	// ErrAgentNotFound is returned for an agent id missing from the catalog.
	ErrAgentNotFound = catalog.ErrAgentNotFound

	// ErrChatNotOpen is returned when no chat has been opened for an agent.
	ErrChatNotOpen = errors.New("chat not open")
)

// Config tunes a ChatService.
type Config struct {
	// UserID owns the sessions created by this service.
	UserID string

	// MaxAttempts bounds completion attempts per send.
	MaxAttempts int

	// Events optionally receives persisted messages and chat events.
	Events EventPublisher

	// Now overrides the clock.
	Now func() time.Time
}

// ProfileStats summarizes stored usage.
type ProfileStats struct {
	UserID          string                `json:"user_id"`
	TotalSessions   int                   `json:"total_sessions"`
	TotalMessages   int                   `json:"total_messages"`
	SessionsByAgent map[model.AgentID]int `json:"sessions_by_agent"`
}

// ChatService manages the open chats and the stored sessions behind them.
type ChatService struct {
	store     *storage.Store
	catalog   *catalog.Catalog
	completer Completer
	events    EventPublisher
	userID    string
	attempts  int
	logger    *logger.Logger
	now       func() time.Time

	mu          sync.Mutex
	chats       map[model.AgentID]*Chat
	defaultChat *Chat
}

// NewChatService creates a chat service.
func NewChatService(store *storage.Store, cat *catalog.Catalog, completer Completer, log *logger.Logger, cfg Config) *ChatService {
	if cfg.UserID == "" {
		cfg.UserID = model.DefaultUserID
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = llm.DefaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &ChatService{
		store:     store,
		catalog:   cat,
		completer: completer,
		events:    cfg.Events,
		userID:    cfg.UserID,
		attempts:  cfg.MaxAttempts,
		logger:    log,
		now:       cfg.Now,
		chats:     make(map[model.AgentID]*Chat),
	}
}

func (s *ChatService) newChat() *Chat {
	return newChat(s.store, s.completer, s.events, s.attempts, s.logger, s.now)
}

// ListAgents returns the catalog, each agent marked with how many stored
// sessions it has.
func (s *ChatService) ListAgents(ctx context.Context) []model.AgentSummary {
	counts := sessionCounts(s.store.GetSessions(ctx))

	agents := s.catalog.All()
	summaries := make([]model.AgentSummary, 0, len(agents))
	for _, agent := range agents {
		summaries = append(summaries, agent.Summarize(counts[agent.ID]))
	}
	return summaries
}

// Agent returns a catalog entry.
func (s *ChatService) Agent(id model.AgentID) (model.Agent, error) {
	return s.catalog.Get(id)
}

// SelectAgent opens the agent's chat on its active session, creating and
// saving a new session when there is none.
func (s *ChatService) SelectAgent(ctx context.Context, agentID model.AgentID) (*Chat, error) {
	agent, err := s.catalog.Get(agentID)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("agent_id", string(agentID)))

	session := s.store.GetActiveSession(ctx, agentID)
	if session == nil {
		session = model.NewSession(s.userID, &agent, s.now())
		if err := s.store.SaveSession(ctx, session); err != nil {
			return nil, err
		}
		metrics.SessionsTotal.WithLabelValues(string(agentID)).Inc()
		log.Info("session created", zap.String("session_id", session.ID))
	}

	chat := s.newChat()
	chat.Open(ctx, agent, session)

	s.mu.Lock()
	s.chats[agentID] = chat
	s.mu.Unlock()

	return chat, nil
}

// DefaultChat returns the first-run chat: the first catalog agent with no
// session. Its messages are never stored.
func (s *ChatService) DefaultChat(ctx context.Context) *Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.defaultChat == nil {
		chat := s.newChat()
		chat.Open(ctx, s.catalog.First(), nil)
		s.defaultChat = chat
	}
	return s.defaultChat
}

// ChatFor returns the chat opened for an agent by SelectAgent.
func (s *ChatService) ChatFor(agentID model.AgentID) (*Chat, error) {
	if _, err := s.catalog.Get(agentID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[agentID]
	if !ok {
		return nil, ErrChatNotOpen
	}
	return chat, nil
}

// Sessions lists every stored session.
func (s *ChatService) Sessions(ctx context.Context) []model.ChatSession {
	return s.store.GetSessions(ctx)
}

// Messages lists a session's stored messages.
func (s *ChatService) Messages(ctx context.Context, sessionID string) []model.ChatMessage {
	return s.store.GetMessages(ctx, sessionID)
}

// DeleteSession removes a session and its messages, closing any chat open on it.
func (s *ChatService) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	for agentID, chat := range s.chats {
		if session := chat.Session(); session != nil && session.ID == sessionID {
			delete(s.chats, agentID)
		}
	}
	s.mu.Unlock()

	s.logger.Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// Stats returns the profile screen figures.
func (s *ChatService) Stats(ctx context.Context) ProfileStats {
	sessions := s.store.GetSessions(ctx)

	total := 0
	for _, session := range sessions {
		total += len(s.store.GetMessages(ctx, session.ID))
	}

	return ProfileStats{
		UserID:          s.userID,
		TotalSessions:   len(sessions),
		TotalMessages:   total,
		SessionsByAgent: sessionCounts(sessions),
	}
}

// ClearAll deletes all stored chat data and closes every open chat.
func (s *ChatService) ClearAll(ctx context.Context) error {
	if err := s.store.ClearAllData(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.chats = make(map[model.AgentID]*Chat)
	if s.defaultChat != nil {
		s.defaultChat.reset()
	}
	s.mu.Unlock()

	return nil
}

func sessionCounts(sessions []model.ChatSession) map[model.AgentID]int {
	counts := make(map[model.AgentID]int)
	for _, session := range sessions {
		counts[session.AgentID]++
	}
	return counts
}
