package repository

import (
	"context"
	"time"

	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/pkg/cache"
)

// CacheSessionLocker backs SessionLocker with pkg/cache: Redis SetNX in live
// mode, the memory cache in paper mode.
type CacheSessionLocker struct {
	cache cache.Service
}

func NewCacheSessionLocker(c cache.Service) drepo.SessionLocker {
	return &CacheSessionLocker{cache: c}
}

func (l *CacheSessionLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.cache.TryLock(ctx, key, ttl)
}

func (l *CacheSessionLocker) Unlock(ctx context.Context, key string) error {
	return l.cache.Unlock(ctx, key)
}
