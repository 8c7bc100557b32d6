package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
	"github.com/alem-hub/edu-progress/pkg/circuitbreaker"
)

// DefaultChannel is the Redis Pub/Sub channel events are mirrored to.
const DefaultChannel = "edu-progress:events"

// Envelope is the wire form of a domain event.
type Envelope struct {
	ID          string                 `json:"id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// NewEnvelope wraps an event with a fresh id.
func NewEnvelope(event shared.Event) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}
}

// RedisForwarder mirrors every event to a Redis channel so other services
// (analytics, notifications) can follow them.
type RedisForwarder struct {
	client  goredis.UniversalClient
	channel string
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

// ForwarderOption configures a RedisForwarder.
type ForwarderOption func(*RedisForwarder)

// WithBreaker guards publishes with a circuit breaker. While it is open
// events are dropped without touching Redis.
func WithBreaker(cb *circuitbreaker.Breaker) ForwarderOption {
	return func(f *RedisForwarder) {
		f.breaker = cb
	}
}

// NewRedisForwarder creates a forwarder. An empty channel uses DefaultChannel.
func NewRedisForwarder(client goredis.UniversalClient, channel string, opts ...ForwarderOption) *RedisForwarder {
	if channel == "" {
		channel = DefaultChannel
	}
	f := &RedisForwarder{client: client, channel: channel, timeout: 2 * time.Second}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Handle is a shared.EventHandler.
func (f *RedisForwarder) Handle(event shared.Event) error {
	data, err := json.Marshal(NewEnvelope(event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	publish := func(ctx context.Context) error {
		return f.client.Publish(ctx, f.channel, data).Err()
	}
	if f.breaker != nil {
		err = f.breaker.Execute(ctx, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", f.channel, err)
	}
	return nil
}

// Channel returns the target channel name.
func (f *RedisForwarder) Channel() string {
	return f.channel
}

// LogHandler returns a handler that writes every event to the logger.
func LogHandler(logger *slog.Logger) shared.EventHandler {
	logger = logger.With("component", "events")
	return func(event shared.Event) error {
		logger.Info("domain event",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"payload", event.Payload(),
		)
		return nil
	}
}
