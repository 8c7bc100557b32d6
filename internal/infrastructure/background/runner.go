// Package background runs fire-and-forget maintenance work, such as
// persisting a day rollover, outside the request path.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUNNER
// ══════════════════════════════════════════════════════════════════════════════

// ErrRunnerClosed is returned by Close when called twice.
var ErrRunnerClosed = errors.New("background runner is closed")

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Config contains configuration for the Runner.
type Config struct {
	// MaxConcurrent bounds the number of tasks executing at once.
	MaxConcurrent int64

	// TaskTimeout bounds a single task execution.
	TaskTimeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 16,
		TaskTimeout:   5 * time.Second,
		Logger:        slog.Default(),
	}
}

// Runner executes submitted tasks on a bounded set of goroutines.
// Submit never blocks: when every slot is taken the task is dropped.
type Runner struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	metrics Metrics
}

// Metrics are counters describing runner activity.
type Metrics struct {
	Submitted atomic.Int64
	Dropped   atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Submitted int64 `json:"submitted"`
	Dropped   int64 `json:"dropped"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		timeout: cfg.TaskTimeout,
		logger:  cfg.Logger.With("component", "background"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules a task. It reports false if the runner is closed or
// saturated.
func (r *Runner) Submit(name string, task func(ctx context.Context) error) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || task == nil {
		return false
	}
	if !r.sem.TryAcquire(1) {
		r.metrics.Dropped.Add(1)
		r.logger.Warn("task dropped, runner saturated", "task", name)
		return false
	}

	r.metrics.Submitted.Add(1)
	r.wg.Add(1)
	go r.run(name, task)
	return true
}

func (r *Runner) run(name string, task func(ctx context.Context) error) {
	defer r.wg.Done()
	defer r.sem.Release(1)

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := safeCall(ctx, task)
	duration := time.Since(start)

	if err != nil {
		r.metrics.Failed.Add(1)
		r.logger.Error("task failed",
			"task", name,
			"duration", duration,
			"error", err,
		)
		return
	}

	r.metrics.Succeeded.Add(1)
	r.logger.Debug("task completed", "task", name, "duration", duration)
}

// Wait blocks until every submitted task has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close stops accepting tasks and waits for in-flight ones. Running tasks
// see their context cancelled once ctx expires.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		r.logger.Info("background runner stopped")
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// Snapshot returns the current counters.
func (r *Runner) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Submitted: r.metrics.Submitted.Load(),
		Dropped:   r.metrics.Dropped.Load(),
		Succeeded: r.metrics.Succeeded.Load(),
		Failed:    r.metrics.Failed.Load(),
	}
}

func safeCall(ctx context.Context, task func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return task(ctx)
}
