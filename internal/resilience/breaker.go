// Package resilience keeps the synthesis path serving audio when a
// text-to-speech backend misbehaves. A [Breaker] tracks the health of one
// backend and stops routing work to it after repeated failures; a
// [SynthFallback] chains several backends, each behind its own breaker, so a
// dead primary is routed around instead of failing every read-aloud request.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while a backend is suspended
// and its retry window has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: backend suspended")

// State is a [Breaker]'s operating mode.
type State int

const (
	// StateClosed routes every call through to the backend.
	StateClosed State = iota

	// StateOpen suspends the backend: calls fail immediately with
	// [ErrBreakerOpen] until the retry window elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of trial calls through to decide
	// whether the backend has recovered.
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

// BreakerConfig tunes one [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Backend labels the guarded backend in log output.
	Backend string

	// MaxFailures is how many consecutive failures suspend the backend.
	// Default: 5.
	MaxFailures int

	// RetryAfter is how long a suspended backend waits before trial calls
	// are allowed again. Default: 30s.
	RetryAfter time.Duration

	// ProbeBudget is how many trial calls the half-open state permits
	// before the breaker decides. Default: 3.
	ProbeBudget int
}

// Breaker guards one synthesis backend with the three-state circuit breaker
// pattern: closed while healthy, open after MaxFailures consecutive errors,
// half-open for trial calls once RetryAfter has passed.
type Breaker struct {
	backend     string
	maxFailures int
	retryAfter  time.Duration
	probeBudget int

	mu         sync.Mutex
	state      State
	failures   int
	lastFail   time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a Breaker, filling zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	return &Breaker{
		backend:     cfg.Backend,
		maxFailures: cfg.MaxFailures,
		retryAfter:  cfg.RetryAfter,
		probeBudget: cfg.ProbeBudget,
		state:       StateClosed,
	}
}

// Do runs one backend call under the breaker. While the backend is suspended
// it returns [ErrBreakerOpen] without invoking fn; in the half-open state
// only the probe budget's worth of calls go through.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}

	err = fn()
	b.record(err, probe)
	return err
}

// allow decides whether a call may proceed and whether it counts against the
// probe budget.
func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFail) < b.retryAfter {
			return false, ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("synthesis backend probing after suspension", "backend", b.backend)

	case StateHalfOpen:
		if b.probes >= b.probeBudget {
			return false, ErrBreakerOpen
		}
	}

	if b.state == StateHalfOpen {
		b.probes++
		return true, nil
	}
	return false, nil
}

// record applies the outcome of one backend call to the breaker state.
func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if !probe {
			b.failures = 0
			return
		}
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = StateClosed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("synthesis backend recovered", "backend", b.backend)
		}
		return
	}

	b.lastFail = time.Now()
	if probe {
		// One failed trial call is enough to suspend again.
		b.probeFails++
		b.state = StateOpen
		b.failures = b.maxFailures
		slog.Warn("synthesis backend failed trial call, suspending again", "backend", b.backend)
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.state = StateOpen
		slog.Warn("synthesis backend suspended",
			"backend", b.backend,
			"consecutive_failures", b.failures)
	}
}

// State returns the breaker's current state. A suspended backend whose retry
// window has elapsed reports [StateHalfOpen]; the actual transition happens
// on the next [Breaker.Do] call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFail) >= b.retryAfter {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears every counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeFails = 0
	slog.Info("synthesis backend breaker reset", "backend", b.backend)
}
