// Package circuitbreaker stops calls to a failing dependency for a cool-down
// period so callers fail fast instead of waiting on timeouts.
//
// Every state change starts a new generation. A call that was admitted in an
// older generation does not count toward the current one.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrCircuitOpen is returned while the circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when every half-open probe slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings configure a Breaker. Zero values take the defaults noted per field.
type Settings struct {
	Name string

	// FailureThreshold consecutive failures open a closed circuit. Default 5.
	FailureThreshold int
	// SuccessThreshold consecutive probe successes close it again. Default 2.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open. Default 30s.
	Cooldown time.Duration
	// HalfOpenProbes is how many calls may run while half-open. Default 1.
	HalfOpenProbes int

	OnStateChange func(name string, from, to State)
	// IsFailure decides whether an error counts. Nil counts every error.
	IsFailure func(error) bool
	// Now replaces time.Now.
	Now func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.HalfOpenProbes <= 0 {
		s.HalfOpenProbes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Counts are reset on every state change.
type Counts struct {
	Requests             int `json:"requests"`
	Successes            int `json:"successes"`
	Failures             int `json:"failures"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`
	ConsecutiveFailures  int `json:"consecutive_failures"`
}

// Snapshot is a point-in-time view for health reporting.
type Snapshot struct {
	Name       string     `json:"name"`
	State      State      `json:"state"`
	Generation uint64     `json:"generation"`
	Counts     Counts     `json:"counts"`
	Rejected   uint64     `json:"rejected"`
	OpenUntil  *time.Time `json:"open_until,omitempty"`
}

// Breaker guards calls to one dependency.
type Breaker struct {
	settings Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	inFlight   int
	rejected   uint64
	openUntil  time.Time
}

// New creates a closed Breaker.
func New(settings Settings) *Breaker {
	return &Breaker{settings: settings.withDefaults()}
}

// Execute runs fn when the circuit admits it and records the outcome.
// A cancelled ctx is returned as is and not counted.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(gen, err)
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current(b.settings.Now()) {
	case StateOpen:
		b.rejected++
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.HalfOpenProbes {
			b.rejected++
			return 0, ErrTooManyRequests
		}
	}
	b.inFlight++
	b.counts.Requests++
	return b.generation, nil
}

func (b *Breaker) record(gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.current(b.settings.Now())
	if gen != b.generation {
		return
	}
	b.inFlight--

	failed := err != nil
	if failed && b.settings.IsFailure != nil {
		failed = b.settings.IsFailure(err)
	}

	if !failed {
		b.counts.Successes++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.SuccessThreshold {
			b.transition(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	if state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.settings.FailureThreshold {
		b.transition(StateOpen)
	}
}

// current moves an expired open circuit to half-open. mu must be held.
func (b *Breaker) current(now time.Time) State {
	if b.state == StateOpen && !now.Before(b.openUntil) {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// transition must be called with mu held.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.generation++
	b.counts = Counts{}
	b.inFlight = 0
	b.openUntil = time.Time{}
	if next == StateOpen {
		b.openUntil = b.settings.Now().Add(b.settings.Cooldown)
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, prev, next)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current(b.settings.Now())
}

// Snapshot returns the current state and counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Name:       b.settings.Name,
		State:      b.current(b.settings.Now()),
		Generation: b.generation,
		Counts:     b.counts,
		Rejected:   b.rejected,
	}
	if snap.State == StateOpen {
		until := b.openUntil
		snap.OpenUntil = &until
	}
	return snap
}

// EventForwarderBreaker trips after 3 failed publishes and probes again
// after 15s; one good probe closes it.
func EventForwarderBreaker(onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:             "event-forwarder",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         15 * time.Second,
		OnStateChange:    onStateChange,
	})
}
