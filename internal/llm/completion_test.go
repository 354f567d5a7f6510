package llm

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/lifeline/internal/model"
	"github.com/capitalize-ai/lifeline/pkg/logger"
)

// fakeClient returns scripted results, one per call; the last one repeats.
type fakeClient struct {
	mu       sync.Mutex
	results  []fakeResult
	requests []*CompletionRequest
}

type fakeResult struct {
	content string
	err     error
}

func (f *fakeClient) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &CompletionResponse{Content: r.content, Model: req.Model}, nil
}

func (f *fakeClient) Name() string     { return "fake" }
func (f *fakeClient) Models() []string { return []string{"fake-model"} }

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// instantTimer fires immediately and records every requested wait.
type instantTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func testAgent(id model.AgentID) model.Agent {
	return model.Agent{ID: id, Name: "Test", SystemPrompt: "You are a test agent."}
}

func newLiveCompletion(t *testing.T, client Client, timer *instantTimer) *Completion {
	t.Helper()
	c := NewCompletion("fake", func(string) (Client, error) { return client, nil }, logger.NewNop(),
		WithTimer(func() backoff.Timer { return timer }),
	)
	c.Initialize("sk-live")
	require.True(t, c.Initialized())
	require.False(t, c.DemoMode())
	return c
}

func TestSendMessage_NotInitialized(t *testing.T) {
	c := NewCompletion("fake", func(string) (Client, error) { return &fakeClient{}, nil }, logger.NewNop())

	_, err := c.SendMessage(context.Background(), testAgent(model.AgentMaya), nil, "hello")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitialize_FactoryFailureLeavesUninitialized(t *testing.T) {
	c := NewCompletion("fake", func(string) (Client, error) { return nil, errors.New("boom") }, logger.NewNop())
	c.Initialize("key")
	assert.False(t, c.Initialized())

	_, err := c.SendMessage(context.Background(), testAgent(model.AgentMaya), nil, "hello")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitialize_IsIdempotent(t *testing.T) {
	var keys []string
	c := NewCompletion("fake", func(k string) (Client, error) {
		keys = append(keys, k)
		return &fakeClient{}, nil
	}, logger.NewNop())

	c.Initialize("")
	c.Initialize("")
	assert.True(t, c.Initialized())
	assert.True(t, c.DemoMode())
	assert.Equal(t, []string{PlaceholderAPIKey, PlaceholderAPIKey}, keys)
}

func TestSendMessage_PlaceholderReturnsCannedReply(t *testing.T) {
	client := &fakeClient{results: []fakeResult{{content: "real"}}}
	c := NewCompletion("fake", func(string) (Client, error) { return client, nil }, logger.NewNop(),
		WithRandSource(rand.NewSource(1)),
	)
	c.Initialize("")

	for _, id := range []model.AgentID{model.AgentMaya, model.AgentAlex, model.AgentZoe, model.AgentSam} {
		for i := 0; i < 10; i++ {
			reply, err := c.SendMessage(context.Background(), testAgent(id), nil, "hello")
			require.NoError(t, err)
			require.True(t, strings.HasSuffix(reply, DemoDisclaimer))
			assert.Contains(t, CannedResponses(id), strings.TrimSuffix(reply, DemoDisclaimer))
		}
	}
	assert.Zero(t, client.calls(), "placeholder key must not reach the provider")
}

func TestSendMessage_UnknownAgentUsesDefaultList(t *testing.T) {
	c := NewCompletion("fake", func(string) (Client, error) { return &fakeClient{}, nil }, logger.NewNop())
	c.Initialize(PlaceholderAPIKey)

	reply, err := c.SendMessage(context.Background(), testAgent(model.AgentLeo), nil, "hello")
	require.NoError(t, err)
	assert.Contains(t, cannedResponses[model.AgentMaya], strings.TrimSuffix(reply, DemoDisclaimer))
}

func TestSendMessage_BuildsRequest(t *testing.T) {
	client := &fakeClient{results: []fakeResult{{content: "Sure!"}}}
	c := newLiveCompletion(t, client, &instantTimer{})

	prior := []model.ChatMessage{
		*model.NewUserMessage("s", "first", time.Now()),
		*model.NewAssistantMessage("s", model.AgentMaya, "reply", time.Now()),
	}
	reply, err := c.SendMessage(context.Background(), testAgent(model.AgentMaya), prior, "second")
	require.NoError(t, err)
	assert.Equal(t, "Sure!", reply)

	require.Equal(t, 1, client.calls())
	req := client.requests[0]
	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Equal(t, DefaultTemperature, req.Temperature)
	assert.Equal(t, []ChatMessage{
		{Role: RoleSystem, Content: "You are a test agent."},
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
	}, req.Messages)
}

func TestSendMessage_EmptyContentReturnsFiller(t *testing.T) {
	client := &fakeClient{results: []fakeResult{{content: ""}}}
	c := newLiveCompletion(t, client, &instantTimer{})

	reply, err := c.SendMessage(context.Background(), testAgent(model.AgentMaya), nil, "hello")
	require.NoError(t, err)
	assert.Equal(t, EmptyReply, reply)
}

func TestSendMessage_ClassifiesErrors(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{errors.New("error, status code: 401, message: invalid key"), ErrInvalidAPIKey},
		{errors.New("error, status code: 429, message: slow down"), ErrRateLimited},
		{errors.New("dial tcp: network is unreachable"), ErrNetwork},
	}
	for _, tc := range cases {
		client := &fakeClient{results: []fakeResult{{err: tc.err}}}
		c := newLiveCompletion(t, client, &instantTimer{})

		_, err := c.SendMessage(context.Background(), testAgent(model.AgentMaya), nil, "hello")
		assert.ErrorIs(t, err, tc.want, tc.err.Error())
	}
}

func TestSendMessage_OtherErrorsFallBackToCanned(t *testing.T) {
	client := &fakeClient{results: []fakeResult{{err: errors.New("500 internal server error")}}}
	c := newLiveCompletion(t, client, &instantTimer{})

	reply, err := c.SendMessage(context.Background(), testAgent(model.AgentSam), nil, "hello")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(reply, DemoDisclaimer))
	assert.Contains(t, CannedResponses(model.AgentSam), strings.TrimSuffix(reply, DemoDisclaimer))
}

func TestRetryMessage_SucceedsOnThirdAttempt(t *testing.T) {
	rateLimited := errors.New("status code: 429")
	client := &fakeClient{results: []fakeResult{{err: rateLimited}, {err: rateLimited}, {content: "finally"}}}
	timer := &instantTimer{}
	c := newLiveCompletion(t, client, timer)

	reply, err := c.RetryMessage(context.Background(), testAgent(model.AgentMaya), nil, "hello", 3)
	require.NoError(t, err)
	assert.Equal(t, "finally", reply)
	assert.Equal(t, 3, client.calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, timer.waits)
}

func TestRetryMessage_ExhaustsAttempts(t *testing.T) {
	client := &fakeClient{results: []fakeResult{{err: errors.New("401 unauthorized")}}}
	timer := &instantTimer{}
	c := newLiveCompletion(t, client, timer)

	_, err := c.RetryMessage(context.Background(), testAgent(model.AgentMaya), nil, "hello", 3)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.Equal(t, 3, client.calls())
	assert.Len(t, timer.waits, 2)
}

func TestRetryMessage_SingleAttemptDoesNotWait(t *testing.T) {
	client := &fakeClient{results: []fakeResult{{err: errors.New("network down")}}}
	timer := &instantTimer{}
	c := newLiveCompletion(t, client, timer)

	_, err := c.RetryMessage(context.Background(), testAgent(model.AgentMaya), nil, "hello", 1)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, 1, client.calls())
	assert.Empty(t, timer.waits)
}

func TestRetryMessage_RejectsZeroAttempts(t *testing.T) {
	c := newLiveCompletion(t, &fakeClient{results: []fakeResult{{content: "x"}}}, &instantTimer{})

	_, err := c.RetryMessage(context.Background(), testAgent(model.AgentMaya), nil, "hello", 0)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestRetryMessage_NotInitializedIsRetried(t *testing.T) {
	timer := &instantTimer{}
	c := NewCompletion("fake", func(string) (Client, error) { return nil, errors.New("nope") }, logger.NewNop(),
		WithTimer(func() backoff.Timer { return timer }),
	)
	c.Initialize("key")

	_, err := c.RetryMessage(context.Background(), testAgent(model.AgentMaya), nil, "hello", 2)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Len(t, timer.waits, 1)
}
