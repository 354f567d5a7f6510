package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/lifeline/internal/model"
	"github.com/capitalize-ai/lifeline/pkg/logger"
)

// failingKV wraps a KV and fails selected operations.
type failingKV struct {
	KV
	failGet    bool
	failSet    bool
	failRemove bool
	failKeys   bool
}

var errBackend = errors.New("backend unavailable")

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, errBackend
	}
	return f.KV.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errBackend
	}
	return f.KV.Set(ctx, key, value)
}

func (f *failingKV) Remove(ctx context.Context, key string) error {
	if f.failRemove {
		return errBackend
	}
	return f.KV.Remove(ctx, key)
}

func (f *failingKV) Keys(ctx context.Context) ([]string, error) {
	if f.failKeys {
		return nil, errBackend
	}
	return f.KV.Keys(ctx)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(NewMemoryKV(), logger.NewNop())
}

func testSession(id string, agent model.AgentID, active bool) *model.ChatSession {
	now := time.Now().UTC()
	return &model.ChatSession{
		ID:        id,
		UserID:    model.DefaultUserID,
		AgentID:   agent,
		IsActive:  active,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_MessagesKeepCallOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const n = 5
	for i := 0; i < n; i++ {
		msg := model.NewUserMessage("s1", fmt.Sprintf("message %d", i), time.Now())
		require.NoError(t, store.SaveMessage(ctx, msg))
	}

	got := store.GetMessages(ctx, "s1")
	require.Len(t, got, n)
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
	}
}

func TestStore_MessagesArePartitionedBySession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveMessage(ctx, model.NewUserMessage("a", "for a", time.Now())))
	require.NoError(t, store.SaveMessage(ctx, model.NewUserMessage("b", "for b", time.Now())))

	assert.Len(t, store.GetMessages(ctx, "a"), 1)
	assert.Len(t, store.GetMessages(ctx, "b"), 1)
	assert.Empty(t, store.GetMessages(ctx, "c"))
}

func TestStore_ClearMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveMessage(ctx, model.NewUserMessage("s1", "hi", time.Now())))
	require.NoError(t, store.ClearMessages(ctx, "s1"))
	assert.Empty(t, store.GetMessages(ctx, "s1"))

	// Clearing a session that never had messages is fine.
	require.NoError(t, store.ClearMessages(ctx, "never"))
	assert.Empty(t, store.GetMessages(ctx, "never"))
}

func TestStore_SaveSessionUpsertsByID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveSession(ctx, testSession("s1", model.AgentMaya, true)))
	require.NoError(t, store.SaveSession(ctx, testSession("s2", model.AgentAlex, true)))
	require.Len(t, store.GetSessions(ctx), 2)

	updated := testSession("s1", model.AgentMaya, false)
	updated.Title = "renamed"
	require.NoError(t, store.SaveSession(ctx, updated))

	sessions := store.GetSessions(ctx)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, "renamed", sessions[0].Title)
	assert.False(t, sessions[0].IsActive)

	require.NoError(t, store.SaveSession(ctx, testSession("s3", model.AgentZoe, true)))
	assert.Len(t, store.GetSessions(ctx), 3)
}

func TestStore_GetActiveSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.Nil(t, store.GetActiveSession(ctx, model.AgentMaya))

	require.NoError(t, store.SaveSession(ctx, testSession("inactive", model.AgentMaya, false)))
	assert.Nil(t, store.GetActiveSession(ctx, model.AgentMaya))

	require.NoError(t, store.SaveSession(ctx, testSession("first", model.AgentMaya, true)))
	require.NoError(t, store.SaveSession(ctx, testSession("second", model.AgentMaya, true)))
	require.NoError(t, store.SaveSession(ctx, testSession("other", model.AgentSam, true)))

	active := store.GetActiveSession(ctx, model.AgentMaya)
	require.NotNil(t, active)
	assert.Equal(t, "first", active.ID)
}

func TestStore_DeleteSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveSession(ctx, testSession("s1", model.AgentMaya, true)))
	require.NoError(t, store.SaveSession(ctx, testSession("s2", model.AgentAlex, true)))
	require.NoError(t, store.SaveMessage(ctx, model.NewUserMessage("s1", "hi", time.Now())))

	require.NoError(t, store.DeleteSession(ctx, "s1"))

	sessions := store.GetSessions(ctx)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Empty(t, store.GetMessages(ctx, "s1"))
}

func TestStore_ClearAllData(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	store := NewStore(kv, logger.NewNop())

	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, store.SaveSession(ctx, testSession(id, model.AgentMaya, true)))
		require.NoError(t, store.SaveMessage(ctx, model.NewUserMessage(id, "hi", time.Now())))
	}
	foreign := []string{"lifeline_messagesX", "lifeline_sessions_backup", "unrelated_key"}
	for _, k := range foreign {
		require.NoError(t, kv.Set(ctx, k, []byte("keep")))
	}

	require.NoError(t, store.ClearAllData(ctx))

	assert.Empty(t, store.GetSessions(ctx))
	assert.Empty(t, store.GetMessages(ctx, "s1"))
	assert.Empty(t, store.GetMessages(ctx, "s2"))

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, foreign, keys)
}

func TestStore_ClearAllDataWaitsForSessionWriter(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryKV(), logger.NewNop())
	require.NoError(t, store.SaveSession(ctx, testSession("s1", model.AgentMaya, true)))

	unlock := store.lock(SessionsKey)
	done := make(chan error, 1)
	go func() { done <- store.ClearAllData(ctx) }()

	select {
	case <-done:
		t.Fatal("ClearAllData ran while a session write held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	require.NoError(t, <-done)
	assert.Empty(t, store.GetSessions(ctx))
}

func TestStore_ClearAllDataWaitsForMessageWriter(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryKV(), logger.NewNop())
	require.NoError(t, store.SaveMessage(ctx, model.NewUserMessage("s1", "hi", time.Now())))

	unlock := store.lock(MessagesKey("s1"))
	done := make(chan error, 1)
	go func() { done <- store.ClearAllData(ctx) }()

	select {
	case <-done:
		t.Fatal("ClearAllData ran while a message write held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	require.NoError(t, <-done)
	assert.Empty(t, store.GetMessages(ctx, "s1"))
}

func TestStore_ReadFailuresDegradeToEmpty(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: NewMemoryKV(), failGet: true}
	store := NewStore(kv, logger.NewNop())

	assert.Empty(t, store.GetMessages(ctx, "s1"))
	assert.Empty(t, store.GetSessions(ctx))
	assert.Nil(t, store.GetActiveSession(ctx, model.AgentMaya))
}

func TestStore_CorruptBlobDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	store := NewStore(kv, logger.NewNop())

	require.NoError(t, kv.Set(ctx, MessagesKey("s1"), []byte("{not json")))
	assert.Empty(t, store.GetMessages(ctx, "s1"))
}

func TestStore_WriteFailuresSurface(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{KV: NewMemoryKV(), failSet: true, failRemove: true, failKeys: true}
	store := NewStore(kv, logger.NewNop())

	err := store.SaveMessage(ctx, model.NewUserMessage("s1", "hi", time.Now()))
	assert.ErrorIs(t, err, ErrSaveMessage)
	assert.ErrorIs(t, err, errBackend)

	assert.ErrorIs(t, store.ClearMessages(ctx, "s1"), ErrClearMessages)
	assert.ErrorIs(t, store.SaveSession(ctx, testSession("s1", model.AgentMaya, true)), ErrSaveSession)
	assert.ErrorIs(t, store.DeleteSession(ctx, "s1"), ErrDeleteSession)
	assert.ErrorIs(t, store.ClearAllData(ctx), ErrClearAllData)
}

func TestStore_ConcurrentSavesKeepEveryMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.SaveMessage(ctx, model.NewUserMessage("s1", fmt.Sprint(i), time.Now()))
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.GetMessages(ctx, "s1"), n)
}

func TestStore_SQLiteBackend(t *testing.T) {
	ctx := context.Background()
	kv, err := NewSQLiteKV(t.TempDir() + "/lifeline.db")
	require.NoError(t, err)
	defer kv.Close()

	store := NewStore(kv, logger.NewNop())
	require.NoError(t, store.Ping(ctx))

	session := testSession("maya_1", model.AgentMaya, true)
	require.NoError(t, store.SaveSession(ctx, session))
	require.NoError(t, store.SaveMessage(ctx, model.NewUserMessage(session.ID, "hello", time.Now())))
	require.NoError(t, store.SaveMessage(ctx, model.NewAssistantMessage(session.ID, model.AgentMaya, "hi", time.Now())))

	msgs := store.GetMessages(ctx, session.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, string(model.AgentMaya), msgs[1].Metadata[model.MetadataAgentID])

	require.NoError(t, store.ClearAllData(ctx))
	assert.Empty(t, store.GetSessions(ctx))
	assert.Empty(t, store.GetMessages(ctx, session.ID))
}
