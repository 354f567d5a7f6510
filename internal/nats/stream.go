package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeline/internal/model"
)

const (
	// StreamName is the name of the chat event stream.
	StreamName = "LIFELINE"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "lifeline"
)

// Publisher fans persisted messages and chat events out to JetStream.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher on client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream creates the chat stream unless it already exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "LifeLine chat messages and events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.client.logger.Info("created stream", zap.String("stream", StreamName))
	return nil
}

// MessageSubject returns the subject for a message.
func MessageSubject(sessionID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, subjectToken(sessionID), role)
}

// EventSubject returns the subject for an event.
func EventSubject(sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, subjectToken(sessionID), eventType)
}

// SessionFilter returns the filter subject for everything in a session.
func SessionFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, subjectToken(sessionID))
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// subjectToken makes an id safe to use as a single subject token.
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return subjectReplacer.Replace(id)
}

// PublishMessage publishes a message to JetStream.
func (p *Publisher) PublishMessage(ctx context.Context, msg *model.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := p.client.JetStream().Publish(ctx, MessageSubject(msg.SessionID, msg.Role), data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishEvent publishes an event to JetStream.
func (p *Publisher) PublishEvent(ctx context.Context, event *model.ChatEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.client.JetStream().Publish(ctx, EventSubject(event.SessionID, event.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// History replays up to limit messages published for a session, oldest first.
func (p *Publisher) History(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	consumer, err := p.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, subjectToken(sessionID))},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	messages := []model.ChatMessage{}
	for msg := range batch.Messages() {
		var m model.ChatMessage
		if err := json.Unmarshal(msg.Data(), &m); err != nil {
			p.client.logger.Warn("skipping undecodable message", zap.String("subject", msg.Subject()), zap.Error(err))
			continue
		}
		messages = append(messages, m)
	}
	if err := batch.Error(); err != nil && err != context.DeadlineExceeded {
		return nil, fmt.Errorf("batch error: %w", err)
	}
	return messages, nil
}
