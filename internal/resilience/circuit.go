// Package resilience provides circuit breaking and retry for injected I/O:
// queue-depth probes, store writes and replay executors.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the open window ends.
	CircuitOpen
	// CircuitHalfOpen admits a single probe call.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
	ErrCircuitOpen = eris.New("circuit breaker is open")
	// ErrProbeInFlight is returned when a half-open circuit already has a probe running.
	ErrProbeInFlight = eris.New("circuit breaker half-open probe already in progress")
)

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open. Default: 60s.
	ResetTimeout time.Duration

	// ShouldTrip decides whether an error counts as a failure. If nil, every
	// non-nil error does.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State               CircuitState
	ConsecutiveFailures int
	OpenUntil           time.Time
}

// CircuitBreaker guards one resource.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	mu  sync.Mutex

	state         CircuitState
	failures      int
	openUntil     time.Time
	probeInFlight bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, nowFunc: time.Now}
}

// Execute runs fn through the breaker. It returns ErrCircuitOpen or
// ErrProbeInFlight without calling fn when the circuit rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.beforeCall(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	if err != nil && cb.trips(err) {
		cb.recordFailure()
		return val, err
	}
	cb.recordSuccess()
	return val, err
}

// State returns the current circuit state, moving an expired open circuit
// to half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentLocked()
}

// Snapshot returns the breaker's counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:               cb.currentLocked(),
		ConsecutiveFailures: cb.failures,
		OpenUntil:           cb.openUntil,
	}
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closeLocked()
}

func (cb *CircuitBreaker) trips(err error) bool {
	if cb.cfg.ShouldTrip == nil {
		return true
	}
	return cb.cfg.ShouldTrip(err)
}

func (cb *CircuitBreaker) currentLocked() CircuitState {
	if cb.state == CircuitOpen && !cb.nowFunc().Before(cb.openUntil) {
		cb.transition(CircuitHalfOpen)
		cb.probeInFlight = false
	}
	return cb.state
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentLocked() {
	case CircuitOpen:
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return ErrProbeInFlight
		}
		cb.probeInFlight = true
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closeLocked()
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.nowFunc()
	if cb.currentLocked() == CircuitHalfOpen {
		cb.openLocked(now)
		return
	}
	cb.failures++
	if cb.failures >= cb.cfg.FailureThreshold {
		cb.openLocked(now)
	}
}

func (cb *CircuitBreaker) openLocked(now time.Time) {
	cb.openUntil = now.Add(cb.cfg.ResetTimeout)
	cb.probeInFlight = false
	cb.transition(CircuitOpen)
}

func (cb *CircuitBreaker) closeLocked() {
	cb.failures = 0
	cb.openUntil = time.Time{}
	cb.probeInFlight = false
	cb.transition(CircuitClosed)
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
