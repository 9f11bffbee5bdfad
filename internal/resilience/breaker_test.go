package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackendDown = errors.New("backend down")

// scriptedBackend simulates one synthesis backend whose health can be
// flipped mid-test.
type scriptedBackend struct {
	calls int
	fail  bool
}

func (s *scriptedBackend) call() error {
	s.calls++
	if s.fail {
		return errBackendDown
	}
	return nil
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Backend: "playai"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.retryAfter != 30*time.Second {
		t.Errorf("retryAfter = %v, want 30s", b.retryAfter)
	}
	if b.probeBudget != 3 {
		t.Errorf("probeBudget = %d, want 3", b.probeBudget)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreakerPassesCallsWhileHealthy(t *testing.T) {
	backend := &scriptedBackend{}
	b := NewBreaker(BreakerConfig{Backend: "playai", MaxFailures: 3})

	for range 10 {
		if err := b.Do(backend.call); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if backend.calls != 10 {
		t.Errorf("backend calls = %d, want 10", backend.calls)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreakerSuspendsAfterRepeatedFailures(t *testing.T) {
	backend := &scriptedBackend{fail: true}
	b := NewBreaker(BreakerConfig{
		Backend:     "playai",
		MaxFailures: 3,
		RetryAfter:  time.Hour, // keep it suspended for the whole test
	})

	for range 3 {
		_ = b.Do(backend.call)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	// Further calls never reach the backend.
	if err := b.Do(backend.call); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Do while suspended = %v, want ErrBreakerOpen", err)
	}
	if backend.calls != 3 {
		t.Errorf("backend calls = %d, want 3 (suspended call must not reach it)", backend.calls)
	}
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	backend := &scriptedBackend{fail: true}
	b := NewBreaker(BreakerConfig{Backend: "playai", MaxFailures: 3})

	_ = b.Do(backend.call)
	_ = b.Do(backend.call)

	backend.fail = false
	if err := b.Do(backend.call); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed (success resets the streak)", b.State())
	}

	// The streak restarts from zero: two more failures must not suspend.
	backend.fail = true
	_ = b.Do(backend.call)
	_ = b.Do(backend.call)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after 2 failures post-reset", b.State())
	}
}

func TestBreakerAllowsTrialAfterRetryWindow(t *testing.T) {
	backend := &scriptedBackend{fail: true}
	b := NewBreaker(BreakerConfig{
		Backend:     "playai",
		MaxFailures: 2,
		RetryAfter:  10 * time.Millisecond,
		ProbeBudget: 2,
	})

	_ = b.Do(backend.call)
	_ = b.Do(backend.call)
	if b.State() != StateOpen {
		t.Fatal("backend not suspended")
	}

	time.Sleep(15 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after the retry window", b.State())
	}
}

func TestBreakerRecoversAfterSuccessfulTrials(t *testing.T) {
	backend := &scriptedBackend{fail: true}
	b := NewBreaker(BreakerConfig{
		Backend:     "playai",
		MaxFailures: 2,
		RetryAfter:  10 * time.Millisecond,
		ProbeBudget: 2,
	})

	_ = b.Do(backend.call)
	_ = b.Do(backend.call)
	time.Sleep(15 * time.Millisecond)

	backend.fail = false
	for i := range 2 {
		if err := b.Do(backend.call); err != nil {
			t.Fatalf("trial call %d: %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful trial calls", b.State())
	}
}

func TestBreakerFailedTrialSuspendsAgain(t *testing.T) {
	backend := &scriptedBackend{fail: true}
	b := NewBreaker(BreakerConfig{
		Backend:     "playai",
		MaxFailures: 2,
		RetryAfter:  10 * time.Millisecond,
		ProbeBudget: 3,
	})

	_ = b.Do(backend.call)
	_ = b.Do(backend.call)
	time.Sleep(15 * time.Millisecond)

	if err := b.Do(backend.call); !errors.Is(err, errBackendDown) {
		t.Fatalf("trial call error = %v, want the backend error", err)
	}

	// The failed trial re-suspends immediately; lastFail was just set so
	// the reported state is open, not half-open.
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed trial call", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	backend := &scriptedBackend{fail: true}
	b := NewBreaker(BreakerConfig{
		Backend:     "playai",
		MaxFailures: 2,
		RetryAfter:  time.Hour,
	})

	_ = b.Do(backend.call)
	_ = b.Do(backend.call)
	if b.State() != StateOpen {
		t.Fatal("backend not suspended")
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after Reset", b.State())
	}

	backend.fail = false
	if err := b.Do(backend.call); err != nil {
		t.Fatalf("Do after Reset: %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
