package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// Event channels for Redis pub/sub
const (
	ChannelLinkingCompleted = "events.linking.completed"
	ChannelLinkingFailed    = "events.linking.failed"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with a generated ID.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "penf-linker",
		Version:   "1.0",
	}
}

// LinkingCompletedEvent is published after a document's groups were written.
type LinkingCompletedEvent struct {
	BaseEvent

	Repository string `json:"repository"`
	DocumentID string `json:"document_id"`
	Principal  string `json:"principal"`
	Groups     int    `json:"groups"`
	Linked     int    `json:"linked"`
	Created    int    `json:"created"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
}

// NewLinkingCompletedEvent creates a completion event for key.
func NewLinkingCompletedEvent(key model.DocumentKey, principal string, groups, linked, created, skipped, failed int, d time.Duration) *LinkingCompletedEvent {
	return &LinkingCompletedEvent{
		BaseEvent:  NewBaseEvent("linking.completed"),
		Repository: key.Repository,
		DocumentID: key.DocumentID,
		Principal:  principal,
		Groups:     groups,
		Linked:     linked,
		Created:    created,
		Skipped:    skipped,
		Failed:     failed,
		DurationMs: d.Milliseconds(),
	}
}

// LinkingFailedEvent is published when a task gave up on a document.
type LinkingFailedEvent struct {
	BaseEvent

	Repository string `json:"repository"`
	DocumentID string `json:"document_id"`
	Stage      string `json:"stage"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

// NewLinkingFailedEvent creates a failure event for key.
func NewLinkingFailedEvent(key model.DocumentKey, stage pferrors.Stage, err error) *LinkingFailedEvent {
	code := pferrors.CodeOf(err)
	return &LinkingFailedEvent{
		BaseEvent:  NewBaseEvent("linking.failed"),
		Repository: key.Repository,
		DocumentID: key.DocumentID,
		Stage:      string(stage),
		ErrorCode:  string(code),
		Message:    err.Error(),
		Retryable:  pferrors.IsRetryable(code),
	}
}

// Publisher publishes pipeline events.
type Publisher interface {
	PublishCompleted(ctx context.Context, event *LinkingCompletedEvent) error
	PublishFailed(ctx context.Context, event *LinkingFailedEvent) error
}

// RedisPublisher publishes events to Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisPublisher creates a publisher.
func NewRedisPublisher(client *redis.Client, logger logging.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		logger: logger.With(logging.Component("event_publisher")),
	}
}

// PublishCompleted publishes a completion event.
func (p *RedisPublisher) PublishCompleted(ctx context.Context, event *LinkingCompletedEvent) error {
	return p.publish(ctx, ChannelLinkingCompleted, event)
}

// PublishFailed publishes a failure event.
func (p *RedisPublisher) PublishFailed(ctx context.Context, event *LinkingFailedEvent) error {
	return p.publish(ctx, ChannelLinkingFailed, event)
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Warn("Failed to publish event", logging.F("channel", channel), logging.Err(err))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	p.logger.Debug("Published event", logging.F("channel", channel))
	return nil
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishCompleted(context.Context, *LinkingCompletedEvent) error { return nil }
func (NopPublisher) PublishFailed(context.Context, *LinkingFailedEvent) error       { return nil }

// Verify interface compliance
var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = NopPublisher{}
)
