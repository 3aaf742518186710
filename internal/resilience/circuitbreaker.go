// Package resilience guards cafevox's speech, language-model and voice
// providers against outages.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) kept per
// provider. [FallbackGroup] orders the configured providers of one kind and
// skips those whose breaker is open; [LLMFallback], [STTFallback] and
// [TTSFallback] expose a group as the provider interface the voice pipeline
// consumes. Groups also report per-provider breaker state for readiness
// probes.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successful probes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the state name used in logs and metric attributes.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name identifies the guarded provider in logs and state callbacks.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting
	// probes. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error returned by the wrapped call counts
	// against the breaker. Default: every error except context.Canceled,
	// which only means the caller gave up.
	IsFailure func(error) bool

	// OnStateChange, when set, is called on every transition. It runs with
	// the breaker locked and must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits the call, and records its outcome.
// Errors for which IsFailure is false leave the counters untouched.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil:
		cb.onSuccess(probe)
	case cb.isFailure(err):
		cb.onFailure(probe)
	case probe:
		// Neutral outcome: hand the probe slot back.
		cb.probes--
	}
	return err
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.probes, cb.probeSuccesses = 0, 0
		cb.setState(StateHalfOpen)
	}
	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.probes >= cb.halfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.probes++
	return true, nil
}

// onFailure must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure(probe bool) {
	cb.lastFailure = time.Now()
	if probe {
		cb.consecutiveFail = cb.maxFailures
		cb.setState(StateOpen)
		return
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.setState(StateOpen)
	}
}

// onSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess(probe bool) {
	if !probe {
		cb.consecutiveFail = 0
		return
	}
	cb.probeSuccesses++
	if cb.state == StateHalfOpen && cb.probeSuccesses >= cb.halfOpenMax {
		cb.consecutiveFail = 0
		cb.setState(StateClosed)
	}
}

// setState records a transition. Must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "resilience: circuit breaker state changed",
		"name", cb.name,
		"from", from.String(),
		"to", to.String(),
		"consecutive_failures", cb.consecutiveFail)

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFail = 0
	cb.probes, cb.probeSuccesses = 0, 0
	cb.setState(StateClosed)
}
