package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or
	// has an open circuit breaker.
	ErrAllFailed = errors.New("all providers failed")

	// ErrUnavailable is returned by [FallbackGroup.Ping] when no entry would
	// currently accept a call.
	ErrUnavailable = errors.New("no provider available")
)

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Permanent reports errors that no other provider could fix, such as
	// invalid input. They are returned as is without trying the next entry.
	// Context cancellation and deadline errors are always permanent.
	Permanent func(error) bool
}

func (c FallbackConfig) permanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return c.Permanent != nil && c.Permanent(err)
}

// ProviderStatus is the breaker state of one entry in a [FallbackGroup].
type ProviderStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds the configured providers of one kind in preference
// order. A call goes to the first entry whose breaker admits it; on a
// non-permanent error the next entry is tried.
//
// Entries are registered during startup. After that the group is safe for
// concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a provider after those already registered.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against the entries in order until one succeeds. It returns
// [ErrAllFailed] wrapped with the last error if every entry fails.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// Status lists the breaker state of every entry in preference order.
func (fg *FallbackGroup[T]) Status() []ProviderStatus {
	out := make([]ProviderStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = ProviderStatus{Name: e.name, State: e.breaker.State().String()}
	}
	return out
}

// Ping reports [ErrUnavailable] when every entry's breaker is open. It never
// calls the providers themselves.
func (fg *FallbackGroup[T]) Ping(context.Context) error {
	for _, e := range fg.entries {
		if e.breaker.State() != StateOpen {
			return nil
		}
	}
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return fmt.Errorf("%w: circuits open for %v", ErrUnavailable, names)
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a value.
// It is a function because methods cannot have type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		switch {
		case err == nil:
			return result, nil
		case fg.cfg.permanent(err):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: skipping provider with open circuit", "provider", entry.name)
		default:
			slog.Warn("resilience: provider failed, trying next", "provider", entry.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
