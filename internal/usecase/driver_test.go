package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	"SweepTrader/pkg/config"
)

type scriptedTicker struct {
	mu    sync.Mutex
	calls int
	steps []func() (models.StepResult, error)
}

func (s *scriptedTicker) Tick(context.Context, string) (models.StepResult, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i < len(s.steps) {
		return s.steps[i]()
	}
	return models.StepResult{Reason: "hold"}, nil
}

type flakyHealth struct{ err error }

func (f flakyHealth) Health(context.Context) error { return f.err }

func driverConfig() config.DriverConfig {
	return config.DriverConfig{Symbols: []string{"XAUUSD"}, TickInterval: time.Millisecond, ErrorBackoff: time.Millisecond}
}

func TestDriver_RunOnceReportsFailures(t *testing.T) {
	ticker := &scriptedTicker{steps: []func() (models.StepResult, error){
		func() (models.StepResult, error) { panic("nil bars") },
		func() (models.StepResult, error) { return models.StepResult{}, errors.New("bridge down") },
		func() (models.StepResult, error) { return models.StepResult{}, errs.ErrSessionBusy },
		func() (models.StepResult, error) {
			return models.StepResult{Transitioned: true, To: models.StateSwept}, nil
		},
	}}
	d := NewDriver(ticker, nil, driverConfig(), nil, nil)
	ctx := context.Background()

	assert.False(t, d.RunOnce(ctx), "panic")
	assert.False(t, d.RunOnce(ctx), "error")
	assert.True(t, d.RunOnce(ctx), "busy is not a failure")
	assert.True(t, d.RunOnce(ctx))
	assert.Equal(t, 4, ticker.calls)
}

func TestDriver_RunSurvivesFailuresUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	ticker := &scriptedTicker{steps: []func() (models.StepResult, error){
		func() (models.StepResult, error) { ticks.Add(1); panic("boom") },
		func() (models.StepResult, error) { ticks.Add(1); return models.StepResult{}, errors.New("timeout") },
		func() (models.StepResult, error) { ticks.Add(1); cancel(); return models.StepResult{}, nil },
	}}
	d := NewDriver(ticker, nil, driverConfig(), nil, nil)
	var backoffs atomic.Int32
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		backoffs.Add(1)
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop after cancel")
	}
	assert.Equal(t, int32(3), ticks.Load())
	assert.Equal(t, int32(2), backoffs.Load())
}

func TestDriver_SkipsTickWhenBridgeUnhealthy(t *testing.T) {
	ticker := &scriptedTicker{}
	cfg := driverConfig()
	cfg.HealthInterval = time.Minute
	d := NewDriver(ticker, flakyHealth{err: errors.New("connection refused")}, cfg, nil, nil)

	assert.False(t, d.RunOnce(context.Background()))
	assert.Equal(t, 0, ticker.calls)
}

func TestDriver_HealthCheckedOncePerInterval(t *testing.T) {
	ticker := &scriptedTicker{}
	cfg := driverConfig()
	cfg.HealthInterval = time.Minute
	d := NewDriver(ticker, flakyHealth{}, cfg, nil, nil)
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.True(t, d.RunOnce(context.Background()))
	d.health = flakyHealth{err: errors.New("down")}
	assert.True(t, d.RunOnce(context.Background()), "cached healthy result")

	now = now.Add(2 * time.Minute)
	assert.False(t, d.RunOnce(context.Background()))
	assert.Equal(t, 2, ticker.calls)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "validation", errorKind(errs.Validation("quote", "bid=0")))
	assert.Equal(t, "dependency", errorKind(errs.Dependency("bridge", errors.New("eof"))))
	assert.Equal(t, "state_consistency", errorKind(&errs.StateConsistencyError{SessionID: "s"}))
	assert.Equal(t, "cancelled", errorKind(context.Canceled))
	assert.Equal(t, "tick", errorKind(errors.New("other")))
}
