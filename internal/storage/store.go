package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeline/internal/model"
	"github.com/capitalize-ai/lifeline/pkg/logger"
	"github.com/capitalize-ai/lifeline/pkg/metrics"
)

const (
	// MessagesKeyPrefix prefixes the per-session message list keys.
	MessagesKeyPrefix = "lifeline_messages"

	// SessionsKey holds the list of all sessions.
	SessionsKey = "lifeline_sessions"
)

// Write failures surfaced to callers.
var (
	ErrSaveMessage   = errors.New("failed to save message")
	ErrClearMessages = errors.New("failed to clear messages")
	ErrSaveSession   = errors.New("failed to save session")
	ErrDeleteSession = errors.New("failed to delete session")
	ErrClearAllData  = errors.New("failed to clear all data")
)

// MessagesKey returns the key holding a session's messages.
func MessagesKey(sessionID string) string {
	return MessagesKeyPrefix + "_" + sessionID
}

// Store reads and writes sessions and messages.
//
// Every write is a read-modify-write of a whole JSON list. Writers to the
// same key are serialized inside this process; separate processes sharing
// a backend can still lose an append.
type Store struct {
	kv     KV
	logger *logger.Logger
	locks  sync.Map // key -> *sync.Mutex
}

// NewStore creates a store on top of kv.
func NewStore(kv KV, log *logger.Logger) *Store {
	return &Store{kv: kv, logger: log}
}

func (s *Store) lock(key string) func() {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SaveMessage appends msg to its session's message list.
func (s *Store) SaveMessage(ctx context.Context, msg *model.ChatMessage) error {
	key := MessagesKey(msg.SessionID)
	unlock := s.lock(key)
	defer unlock()

	messages := append(s.GetMessages(ctx, msg.SessionID), *msg)
	if err := s.writeJSON(ctx, key, messages); err != nil {
		s.logger.Error("error saving message",
			zap.String("session_id", msg.SessionID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrSaveMessage, err)
	}
	return nil
}

// GetMessages returns the session's messages in insertion order.
// Read failures are logged and yield an empty list.
func (s *Store) GetMessages(ctx context.Context, sessionID string) []model.ChatMessage {
	var messages []model.ChatMessage
	if err := s.readJSON(ctx, MessagesKey(sessionID), &messages); err != nil {
		s.logger.Warn("error getting messages",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.StorageReadFailuresTotal.WithLabelValues("messages").Inc()
		return []model.ChatMessage{}
	}
	if messages == nil {
		return []model.ChatMessage{}
	}
	return messages
}

// ClearMessages deletes all messages of a session.
func (s *Store) ClearMessages(ctx context.Context, sessionID string) error {
	key := MessagesKey(sessionID)
	unlock := s.lock(key)
	defer unlock()

	if err := s.kv.Remove(ctx, key); err != nil {
		s.logger.Error("error clearing messages",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrClearMessages, err)
	}
	return nil
}

// SaveSession replaces the session with the same id or appends it.
func (s *Store) SaveSession(ctx context.Context, session *model.ChatSession) error {
	unlock := s.lock(SessionsKey)
	defer unlock()

	sessions := s.GetSessions(ctx)
	replaced := false
	for i := range sessions {
		if sessions[i].ID == session.ID {
			sessions[i] = *session
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, *session)
	}

	if err := s.writeJSON(ctx, SessionsKey, sessions); err != nil {
		s.logger.Error("error saving session",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrSaveSession, err)
	}
	return nil
}

// GetSessions returns every stored session. Read failures yield an empty list.
func (s *Store) GetSessions(ctx context.Context) []model.ChatSession {
	var sessions []model.ChatSession
	if err := s.readJSON(ctx, SessionsKey, &sessions); err != nil {
		s.logger.Warn("error getting sessions", zap.Error(err))
		metrics.StorageReadFailuresTotal.WithLabelValues("sessions").Inc()
		return []model.ChatSession{}
	}
	if sessions == nil {
		return []model.ChatSession{}
	}
	return sessions
}

// GetActiveSession returns the first active session for the agent, or nil.
func (s *Store) GetActiveSession(ctx context.Context, agentID model.AgentID) *model.ChatSession {
	for _, session := range s.GetSessions(ctx) {
		if session.AgentID == agentID && session.IsActive {
			return &session
		}
	}
	return nil
}

// DeleteSession removes a session and its messages.
// The two steps are not atomic: a failure in between leaves an unreachable
// message list behind.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.ClearMessages(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrDeleteSession, err)
	}

	unlock := s.lock(SessionsKey)
	defer unlock()

	sessions := s.GetSessions(ctx)
	kept := sessions[:0]
	for _, session := range sessions {
		if session.ID != sessionID {
			kept = append(kept, session)
		}
	}

	if err := s.writeJSON(ctx, SessionsKey, kept); err != nil {
		s.logger.Error("error deleting session",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrDeleteSession, err)
	}
	return nil
}

// ClearAllData removes every session and message list. The sessions key and
// each message key are locked while they are removed, so saves in this
// process cannot race the reset.
func (s *Store) ClearAllData(ctx context.Context) error {
	unlock := s.lock(SessionsKey)
	defer unlock()

	keys, err := s.kv.Keys(ctx)
	if err != nil {
		s.logger.Error("error clearing all data", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrClearAllData, err)
	}

	var owned []string
	for _, k := range keys {
		if ownsKey(k) {
			owned = append(owned, k)
		}
	}

	for _, k := range owned {
		if k == SessionsKey {
			continue
		}
		release := s.lock(k)
		defer release()
	}

	if err := s.kv.RemoveMany(ctx, owned); err != nil {
		s.logger.Error("error clearing all data", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrClearAllData, err)
	}

	s.logger.Info("cleared all data", zap.Int("keys", len(owned)))
	return nil
}

// ownsKey reports whether key is a sessions or message list written by Store.
func ownsKey(key string) bool {
	return key == SessionsKey || strings.HasPrefix(key, MessagesKeyPrefix+"_")
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

func (s *Store) readJSON(ctx context.Context, key string, v any) error {
	data, found, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

func (s *Store) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.kv.Set(ctx, key, data)
}
