package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/edu-progress/internal/domain/quota"
)

var _ quota.TaskRunner = (*Runner)(nil)

func newTestRunner(max int64) *Runner {
	return NewRunner(Config{
		MaxConcurrent: max,
		TaskTimeout:   time.Second,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestRunner_RunsTasks(t *testing.T) {
	r := newTestRunner(5)
	var n atomic.Int32

	for i := 0; i < 3; i++ {
		require.True(t, r.Submit("inc", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	require.True(t, r.Submit("fail", func(context.Context) error {
		return errors.New("boom")
	}))
	require.True(t, r.Submit("panic", func(context.Context) error {
		panic("oops")
	}))

	r.Wait()
	assert.Equal(t, int32(3), n.Load())

	snap := r.Snapshot()
	assert.Equal(t, int64(5), snap.Submitted)
	assert.Equal(t, int64(3), snap.Succeeded)
	assert.Equal(t, int64(2), snap.Failed)
}

func TestRunner_DropsWhenSaturated(t *testing.T) {
	r := newTestRunner(1)
	release := make(chan struct{})

	require.True(t, r.Submit("block", func(context.Context) error {
		<-release
		return nil
	}))
	assert.False(t, r.Submit("extra", func(context.Context) error { return nil }))
	assert.Equal(t, int64(1), r.Snapshot().Dropped)

	close(release)
	r.Wait()
	assert.True(t, r.Submit("after", func(context.Context) error { return nil }))
	r.Wait()
}

func TestRunner_TaskTimeout(t *testing.T) {
	r := NewRunner(Config{
		MaxConcurrent: 1,
		TaskTimeout:   20 * time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	var got error
	r.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	})
	r.Wait()
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestRunner_Close(t *testing.T) {
	r := newTestRunner(2)
	require.NoError(t, r.Close(context.Background()))
	assert.False(t, r.Submit("late", func(context.Context) error { return nil }))
	assert.ErrorIs(t, r.Close(context.Background()), ErrRunnerClosed)
}
