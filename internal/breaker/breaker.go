// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

// Package breaker wraps sony/gobreaker with a per-call timeout so every
// network-backed dependency (Redis tier, DuckDB views, audit sinks) is
// guarded the same way: bounded latency, consecutive-failure tripping, and
// state metrics. One Breaker instance guards one backend; all operations
// against that backend share its failure counts.
package breaker

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/claviger-project/claviger/internal/logging"
	"github.com/claviger-project/claviger/internal/metrics"
)

// defaultFailureThreshold trips the circuit after this many consecutive
// failures when Options leaves it unset.
const defaultFailureThreshold = 5

// Options configures one backend's breaker.
type Options struct {
	// Name identifies the backend in logs and metrics (e.g. "redis").
	Name string

	// Timeout bounds each call. Zero disables the per-call deadline and
	// relies on the caller's context alone.
	Timeout time.Duration

	// MaxRequests is the number of probe calls allowed in half-open state.
	MaxRequests uint32

	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration

	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Defaults to 5.
	FailureThreshold uint32
}

// Breaker guards one backend. Safe for concurrent use.
type Breaker struct {
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[struct{}]
}

// New constructs a Breaker in the closed state.
func New(opts Options) *Breaker {
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}

	metrics.SetCircuitBreakerState(opts.Name, 0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.OpenTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},

		// A parent-canceled call says nothing about backend health, so it
		// must not push the circuit toward open.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().
				Str("breaker", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("[CIRCUIT BREAKER] State transition")

			metrics.SetCircuitBreakerState(name, stateToFloat(to))
			metrics.RecordCircuitBreakerTransition(name, fromStr, toStr)
		},
	})

	return &Breaker{
		name:    opts.Name,
		timeout: opts.Timeout,
		cb:      cb,
	}
}

// Execute runs op under the breaker with the per-call timeout applied.
// When the circuit is open the op is not invoked and the rejection is
// reported via IsRejected.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		callCtx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		return struct{}{}, op(callCtx)
	})

	switch {
	case err == nil:
		metrics.RecordCircuitBreakerRequest(b.name, "success")
	case IsRejected(err):
		metrics.RecordCircuitBreakerRequest(b.name, "rejected")
		logging.Debug().
			Str("breaker", b.name).
			Msg("[CIRCUIT BREAKER] Request rejected")
	default:
		metrics.RecordCircuitBreakerRequest(b.name, "failure")
	}

	return err
}

// Do runs a result-returning op under the breaker. All calls through the
// same Breaker share one set of failure counts regardless of result type.
func Do[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(callCtx context.Context) error {
		v, opErr := op(callCtx)
		if opErr != nil {
			return opErr
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Name returns the backend name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state as a string (closed, half-open, open).
func (b *Breaker) State() string {
	return stateToString(b.cb.State())
}

// Counts exposes the underlying request counts for tests and diagnostics.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// IsRejected reports whether err means the breaker refused the call without
// invoking it: the circuit was open, or half-open and saturated.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
