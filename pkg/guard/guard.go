// Package guard composes retries, exponential backoff, a per-attempt timeout
// and a circuit breaker around any external call.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Policy describes how a single logical call is guarded.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// AttemptTimeout bounds each attempt; zero leaves the caller's deadline alone.
	AttemptTimeout time.Duration
	// TripAfter consecutive failures opens the breaker for Cooldown.
	// Zero disables the breaker.
	TripAfter uint32
	Cooldown  time.Duration
}

// OrderPolicy is the default for order placement: three attempts, 300ms
// base backoff, doubling.
func OrderPolicy() Policy {
	return Policy{
		Name:        "order",
		MaxAttempts: 3,
		BaseBackoff: 300 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		TripAfter:   5,
		Cooldown:    30 * time.Second,
	}
}

// AdvisorPolicy is a single attempt under a hard timeout.
func AdvisorPolicy(timeout time.Duration) Policy {
	return Policy{Name: "advisor", MaxAttempts: 1, AttemptTimeout: timeout}
}

var ErrOpen = errors.New("circuit open")

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type Guard struct {
	policy  Policy
	breaker *gobreaker.CircuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
	onRetry func(attempt int, err error)
}

type Option func(*Guard)

// WithSleep swaps the backoff sleeper, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Guard) { g.sleep = fn }
}

// WithRetryHook is called before each retry with the failed attempt number.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(g *Guard) { g.onRetry = fn }
}

func New(p Policy, opts ...Option) *Guard {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	g := &Guard{policy: p, sleep: sleepCtx}
	if p.TripAfter > 0 {
		trip := p.TripAfter
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    p.Name,
			Timeout: p.Cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= trip
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Policy() Policy { return g.policy }

// State reports the breaker state, "disabled" when no breaker is configured.
func (g *Guard) State() string {
	if g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}

// Do runs fn under the policy. The returned error wraps the last attempt's error.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = g.attempt(ctx, fn)
		if last == nil {
			return nil
		}
		if errors.Is(last, ErrOpen) || IsPermanent(last) || ctx.Err() != nil {
			break
		}
		if attempt == g.policy.MaxAttempts {
			break
		}
		if g.onRetry != nil {
			g.onRetry(attempt, last)
		}
		if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
			return err
		}
	}
	if g.policy.MaxAttempts > 1 {
		return fmt.Errorf("%s failed after retries: %w", g.policy.Name, last)
	}
	return fmt.Errorf("%s failed: %w", g.policy.Name, last)
}

func (g *Guard) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	run := func() error {
		actx := ctx
		if g.policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, g.policy.AttemptTimeout)
			defer cancel()
		}
		return fn(actx)
	}
	if g.breaker == nil {
		return run()
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, run()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrOpen, g.policy.Name)
	}
	return err
}

// backoff doubles from BaseBackoff per failed attempt, capped at MaxBackoff.
func (g *Guard) backoff(attempt int) time.Duration {
	d := g.policy.BaseBackoff << (attempt - 1)
	if g.policy.MaxBackoff > 0 && (d > g.policy.MaxBackoff || d <= 0) {
		d = g.policy.MaxBackoff
	}
	return d
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
