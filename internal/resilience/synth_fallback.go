package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxread/voxread/pkg/synth"
)

// ErrAllBackendsFailed is returned when every synthesis backend either fails
// or is suspended by its breaker.
var ErrAllBackendsFailed = errors.New("resilience: every synthesis backend failed")

// FallbackConfig configures the breaker created for each backend in a
// [SynthFallback].
type FallbackConfig struct {
	Breaker BreakerConfig
}

// synthBackend pairs a named synthesis backend with its breaker.
type synthBackend struct {
	name     string
	provider synth.Provider
	breaker  *Breaker
}

// SynthFallback implements [synth.Provider] with automatic failover: the
// primary backend is tried first, then each fallback in registration order.
// A backend suspended by its breaker is skipped without being called, so one
// flapping endpoint does not slow down every chunk.
//
// Register all backends before first use; Synthesize is then safe for
// concurrent use.
type SynthFallback struct {
	backends []synthBackend
	cfg      FallbackConfig
}

// Compile-time interface assertion.
var _ synth.Provider = (*SynthFallback)(nil)

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary synth.Provider, primaryName string, cfg FallbackConfig) *SynthFallback {
	f := &SynthFallback{cfg: cfg}
	f.add(primaryName, primary)
	return f
}

// AddFallback registers a further backend, tried after all earlier ones.
func (f *SynthFallback) AddFallback(name string, provider synth.Provider) {
	f.add(name, provider)
}

func (f *SynthFallback) add(name string, provider synth.Provider) {
	bc := f.cfg.Breaker
	bc.Backend = name
	f.backends = append(f.backends, synthBackend{
		name:     name,
		provider: provider,
		breaker:  NewBreaker(bc),
	})
}

// Synthesize renders one chunk of text using the first healthy backend.
// Returns [ErrAllBackendsFailed] wrapping the last error when no backend
// produces audio.
func (f *SynthFallback) Synthesize(ctx context.Context, req synth.Request) (synth.Audio, error) {
	var lastErr error
	for i := range f.backends {
		b := &f.backends[i]

		var audio synth.Audio
		err := b.breaker.Do(func() error {
			var callErr error
			audio, callErr = b.provider.Synthesize(ctx, req)
			return callErr
		})
		if err == nil {
			return audio, nil
		}
		lastErr = err

		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping suspended synthesis backend", "backend", b.name)
		} else {
			slog.Warn("synthesis backend failed, trying next",
				"backend", b.name, "err", err)
		}
	}
	return synth.Audio{}, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
