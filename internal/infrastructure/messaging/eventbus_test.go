package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
	"github.com/alem-hub/edu-progress/pkg/circuitbreaker"
)

var _ shared.EventBus = (*InMemoryEventBus)(nil)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInMemoryEventBus_Sync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventBadgeUnlocked, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return errors.New("ignored")
	}))

	require.NoError(t, bus.Publish(shared.NewBadgeUnlockedEvent("u1", "first-steps", 50)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", "math", 1, 2)))

	assert.Equal(t, []shared.EventType{shared.EventBadgeUnlocked}, typed)
	assert.Equal(t, []shared.EventType{shared.EventBadgeUnlocked, shared.EventLevelUp}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.HandlerExecutions)
	assert.Equal(t, int64(2), snap.HandlerFailures)
	assert.Equal(t, int64(1), snap.Published[shared.EventLevelUp])
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: quietLogger()})

	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		n.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewQuotaDeniedEvent("u1", "guest", "chat_message", "guest_limit")))
	}

	require.NoError(t, bus.Close())
	assert.Equal(t, int32(5), n.Load())

	assert.ErrorIs(t, bus.Publish(shared.NewLevelUpEvent("u1", "math", 1, 2)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_Validation(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

func TestInMemoryEventBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))

	assert.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", "math", 1, 2)))
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().HandlerFailures)
}

func TestRedisForwarder_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	fwd := NewRedisForwarder(client, "")
	require.NoError(t, fwd.Handle(shared.NewQuotaConsumedEvent("u1", "free", "chat_message", 1, 49, false)))

	var env Envelope
	select {
	case msg := <-sub.Channel():
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, shared.EventQuotaConsumed, env.EventType)
	assert.Equal(t, "u1", env.AggregateID)
	assert.EqualValues(t, 49, env.Payload["remaining"])
}

func TestRedisForwarder_BreakerStopsPublishing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	cb := circuitbreaker.New(circuitbreaker.Settings{Name: "test", FailureThreshold: 2, Cooldown: time.Hour})
	fwd := NewRedisForwarder(client, "events", WithBreaker(cb))
	event := shared.NewQuotaConsumedEvent("u1", "free", "chat_message", 1, 49, false)

	require.NoError(t, fwd.Handle(event))

	mr.Close()
	assert.Error(t, fwd.Handle(event))
	assert.Error(t, fwd.Handle(event))
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	err := fwd.Handle(event)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, "events", fwd.Channel())
}
