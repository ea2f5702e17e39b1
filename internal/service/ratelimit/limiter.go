package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per outbound dependency (calendar, advisor).
type Limiter struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func New() *Limiter { return &Limiter{m: make(map[string]*rate.Limiter)} }

// Configure sets (or replaces) the budget for key as calls per minute.
func (l *Limiter) Configure(key string, perMinute, burst int) {
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(perMinute, 1))), burst)
	l.mu.Lock()
	l.m[key] = lim
	l.mu.Unlock()
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m[key]
}

// Allow consumes a token for key without waiting. Unconfigured keys are unlimited.
func (l *Limiter) Allow(key string) bool {
	lim := l.get(key)
	return lim == nil || lim.Allow()
}

// Wait blocks until key has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	lim := l.get(key)
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", key, err)
	}
	return nil
}
