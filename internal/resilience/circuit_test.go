package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	cb.nowFunc = clock.Now
	return cb, clock
}

func fail(_ context.Context) error    { return errors.New("fail") }
func succeed(_ context.Context) error { return nil }

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), succeed)
	_ = cb.Execute(context.Background(), fail)

	snap := cb.Snapshot()
	if snap.State != CircuitClosed {
		t.Errorf("expected closed, got %s", snap.State)
	}
	if snap.ConsecutiveFailures != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", snap.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)
	_ = cb.Execute(context.Background(), fail)
	if got := cb.Snapshot().OpenUntil; !got.Equal(clock.Now().Add(10 * time.Second)) {
		t.Fatalf("unexpected open-until %v", got)
	}

	clock.Advance(10 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(_ context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrProbeInFlight) {
		t.Errorf("expected ErrProbeInFlight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(2, 10*time.Second)
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(11 * time.Second)

	if err := cb.Execute(context.Background(), fail); err == nil || errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected the probe to run and fail, got %v", err)
	}
	snap := cb.Snapshot()
	if snap.State != CircuitOpen {
		t.Errorf("expected open after failed probe, got %s", snap.State)
	}
	if !snap.OpenUntil.Equal(clock.Now().Add(10 * time.Second)) {
		t.Errorf("expected a fresh open window, got %v", snap.OpenUntil)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	_ = cb.Execute(context.Background(), fail)
	cb.Reset()

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	ignored := errors.New("not found")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, ignored) },
	})
	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func(_ context.Context) error { return ignored })
		if !errors.Is(err, ignored) {
			t.Fatalf("expected the original error, got %v", err)
		}
	}
	if cb.State() != CircuitClosed {
		t.Errorf("non-tripping errors must not open the circuit, got %s", cb.State())
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(context.Background(), fail)
			} else {
				_ = cb.Execute(context.Background(), succeed)
			}
		}(i)
	}
	wg.Wait()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestExecuteVal(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	n, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int64, error) { return 12, nil })
	if err != nil || n != 12 {
		t.Fatalf("expected 12, got %d (%v)", n, err)
	}

	_, _ = ExecuteVal(context.Background(), cb, func(_ context.Context) (int64, error) { return 0, errors.New("down") })
	n, err = ExecuteVal(context.Background(), cb, func(_ context.Context) (int64, error) { return 99, nil })
	if !errors.Is(err, ErrCircuitOpen) || n != 0 {
		t.Errorf("expected ErrCircuitOpen and zero value, got %d (%v)", n, err)
	}
}

func TestCircuitState_String(t *testing.T) {
	cases := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half_open",
		CircuitState(99): "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d: expected %s, got %s", s, want, s.String())
		}
	}
}
