package session

import (
	"context"
	"sync"
	"time"
)

const (
	// defaultSweepInterval is the default cadence of the idle sweep.
	defaultSweepInterval = 5 * time.Minute

	// defaultIdleThreshold is the default inactivity age after which a
	// session is reclaimed.
	defaultIdleThreshold = 15 * time.Minute
)

// Sweeper periodically evicts idle sessions from a Registry. It runs on its
// own timer, independent of request handling.
//
// All methods are safe for concurrent use.
type Sweeper struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	onSweep   func(evicted int)

	done     chan struct{}
	stopOnce sync.Once
}

// SweeperConfig configures a [Sweeper].
type SweeperConfig struct {
	// Registry is the registry to sweep.
	Registry *Registry

	// Interval is the sweep cadence. Defaults to 5 minutes if zero.
	Interval time.Duration

	// IdleThreshold is the inactivity age that marks a session idle.
	// Defaults to 15 minutes if zero.
	IdleThreshold time.Duration

	// OnSweep, when non-nil, is invoked after each sweep with the number of
	// sessions evicted. Used to feed metrics.
	OnSweep func(evicted int)
}

// NewSweeper creates a new [Sweeper] with the given configuration.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	threshold := cfg.IdleThreshold
	if threshold <= 0 {
		threshold = defaultIdleThreshold
	}
	return &Sweeper{
		registry:  cfg.Registry,
		interval:  interval,
		threshold: threshold,
		onSweep:   cfg.OnSweep,
		done:      make(chan struct{}),
	}
}

// Start begins periodic sweeping in a background goroutine. The goroutine
// runs until [Sweeper.Stop] is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts the sweep loop. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// loop runs the periodic sweep ticker.
func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			evicted := s.registry.Sweep(time.Now(), s.threshold)
			if s.onSweep != nil {
				s.onSweep(evicted)
			}
		}
	}
}
