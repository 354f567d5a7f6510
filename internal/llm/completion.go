package llm

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeline/internal/model"
	"github.com/capitalize-ai/lifeline/pkg/logger"
	"github.com/capitalize-ai/lifeline/pkg/metrics"
)

const (
	// PlaceholderAPIKey marks an unconfigured deployment. Requests made with it
	// never reach the provider and receive canned replies.
	PlaceholderAPIKey = "demo-key-please-replace"

	DefaultModel       = "gpt-3.5-turbo"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
	DefaultMaxAttempts = 3

	// EmptyReply is returned when the provider answers without content.
	EmptyReply = "I apologize, but I couldn't generate a response. Please try again."

	retryBaseInterval = 2 * time.Second
	retryMaxInterval  = 24 * time.Hour
)

// Errors raised by SendMessage. Their text is shown to the user verbatim.
var (
	ErrNotInitialized   = errors.New("AI service not initialized")
	ErrInvalidAPIKey    = errors.New("Invalid API key. Please check your OpenAI configuration.")
	ErrRateLimited      = errors.New("Rate limit exceeded. Please try again in a moment.")
	ErrNetwork          = errors.New("Network error. Please check your internet connection.")
	ErrRetriesExhausted = errors.New("Failed to get AI response after retries")
)

var tracer = otel.Tracer("github.com/capitalize-ai/lifeline/internal/llm")

// Completion turns chat history into agent replies.
type Completion struct {
	factory  ClientFactory
	provider string
	model    string
	newTimer func() backoff.Timer
	logger   *logger.Logger

	mu          sync.RWMutex
	client      Client
	apiKey      string
	initialized bool

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures a Completion.
type Option func(*Completion)

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(c *Completion) {
		if model != "" {
			c.model = model
		}
	}
}

// WithRandSource fixes the source used to pick canned replies.
func WithRandSource(src rand.Source) Option {
	return func(c *Completion) { c.rand = rand.New(src) }
}

// WithTimer replaces the timer used between retry attempts.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Completion) { c.newTimer = newTimer }
}

// NewCompletion creates an uninitialized completion client. Call Initialize
// before sending.
func NewCompletion(provider Provider, factory ClientFactory, log *logger.Logger, opts ...Option) *Completion {
	c := &Completion{
		factory:  factory,
		provider: string(provider),
		model:    DefaultModel,
		logger:   log,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize (re)builds the provider client. An empty key selects the
// placeholder. Failures are logged and leave the client uninitialized.
func (c *Completion) Initialize(apiKey string) {
	key := apiKey
	if key == "" {
		key = PlaceholderAPIKey
	}

	client, err := c.factory(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Error("failed to initialize completion client",
			zap.String("provider", c.provider),
			zap.Error(err),
		)
		c.client = nil
		c.initialized = false
		return
	}

	c.client = client
	c.apiKey = key
	c.initialized = true
}

// Initialized reports whether Initialize succeeded.
func (c *Completion) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// DemoMode reports whether replies come from the canned table.
func (c *Completion) DemoMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey == PlaceholderAPIKey
}

// BuildRequest assembles the provider request for a new user turn.
func (c *Completion) BuildRequest(agent model.Agent, prior []model.ChatMessage, userText string) *CompletionRequest {
	messages := make([]ChatMessage, 0, len(prior)+2)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: agent.SystemPrompt})
	for _, m := range prior {
		messages = append(messages, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: userText})

	return &CompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// SendMessage requests one reply from the agent.
//
// Provider errors mentioning 401, 429 or "network" are returned as
// ErrInvalidAPIKey, ErrRateLimited or ErrNetwork. Any other provider error
// is logged and answered with a canned reply instead.
func (c *Completion) SendMessage(ctx context.Context, agent model.Agent, prior []model.ChatMessage, userText string) (string, error) {
	c.mu.RLock()
	client, apiKey, initialized := c.client, c.apiKey, c.initialized
	c.mu.RUnlock()

	if !initialized || client == nil {
		return "", ErrNotInitialized
	}

	req := c.BuildRequest(agent, prior, userText)

	if apiKey == PlaceholderAPIKey {
		metrics.RecordCanned(c.provider)
		return c.cannedReply(agent.ID), nil
	}

	ctx, span := tracer.Start(ctx, "llm.complete")
	span.SetAttributes(
		attribute.String("llm.provider", client.Name()),
		attribute.String("llm.model", req.Model),
		attribute.String("agent.id", string(agent.ID)),
		attribute.Int("llm.messages", len(req.Messages)),
	)
	defer span.End()

	start := time.Now()
	resp, err := client.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		c.logger.Error("error sending message to AI",
			zap.String("agent_id", string(agent.ID)),
			zap.Error(err),
		)

		outcome, classified := classifyError(err)
		metrics.RecordCompletion(client.Name(), req.Model, outcome, elapsed, 0, 0)
		if classified != nil {
			return "", classified
		}
		return c.cannedReply(agent.ID), nil
	}

	metrics.RecordCompletion(client.Name(), resp.Model, "success", elapsed, resp.TokensIn, resp.TokensOut)
	span.SetAttributes(
		attribute.Int("llm.tokens_in", resp.TokensIn),
		attribute.Int("llm.tokens_out", resp.TokensOut),
	)

	if resp.Content == "" {
		return EmptyReply, nil
	}
	return resp.Content, nil
}

// RetryMessage calls SendMessage up to maxAttempts times, waiting 2^attempt
// seconds after each failed attempt but the last. Every error is retried.
// When all attempts fail the last error is returned.
func (c *Completion) RetryMessage(ctx context.Context, agent model.Agent, prior []model.ChatMessage, userText string, maxAttempts int) (string, error) {
	if maxAttempts < 1 {
		return "", ErrRetriesExhausted
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBaseInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = 0

	var (
		reply   string
		attempt int
	)
	operation := func() error {
		attempt++
		var err error
		reply, err = c.SendMessage(ctx, agent, prior, userText)
		if err == nil {
			return nil
		}
		c.logger.Warn("AI request attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)
		if attempt >= maxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(_ error, wait time.Duration) {
		metrics.LLMRetriesTotal.Inc()
		c.logger.Debug("retrying AI request", zap.Duration("wait", wait))
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}

	if err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(b, ctx), notify, timer); err != nil {
		return "", err
	}
	return reply, nil
}

func (c *Completion) cannedReply(id model.AgentID) string {
	list := CannedResponses(id)

	c.randMu.Lock()
	pick := list[c.rand.Intn(len(list))]
	c.randMu.Unlock()

	return pick + DemoDisclaimer
}

// classifyError maps provider errors by their text. A nil error means the
// failure should be answered with a canned reply.
func classifyError(err error) (outcome string, mapped error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"):
		return "invalid_key", ErrInvalidAPIKey
	case strings.Contains(msg, "429"):
		return "rate_limited", ErrRateLimited
	case strings.Contains(msg, "network"):
		return "network", ErrNetwork
	default:
		return "canned", nil
	}
}
