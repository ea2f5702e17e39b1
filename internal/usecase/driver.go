package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	"SweepTrader/pkg/config"
	"SweepTrader/pkg/logger"
	"SweepTrader/pkg/metrics"
)

// Ticker is the part of the engine the driver needs.
type Ticker interface {
	Tick(ctx context.Context, symbol string) (models.StepResult, error)
}

// HealthChecker reports whether the broker bridge is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Driver is the control loop. It never exits on a failed tick: errors and
// panics are logged and followed by a short backoff.
type Driver struct {
	engine  Ticker
	health  HealthChecker
	cfg     config.DriverConfig
	log     *logger.Logger
	metrics drepo.Metrics

	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	lastHealthy time.Time
}

func NewDriver(engine Ticker, health HealthChecker, cfg config.DriverConfig, log *logger.Logger, m drepo.Metrics) *Driver {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Driver{
		engine:  engine,
		health:  health,
		cfg:     cfg,
		log:     log,
		metrics: m,
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Run ticks every configured interval until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("strategy driver started",
		logger.Strings("symbols", d.cfg.Symbols),
		logger.Duration("tick_interval_ms", d.cfg.TickInterval),
	)
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if !d.RunOnce(ctx) {
			if err := d.sleep(ctx, d.cfg.ErrorBackoff); err != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			d.log.Info("strategy driver stopped")
			return nil
		case <-ticker.C:
		}
	}
	d.log.Info("strategy driver stopped")
	return nil
}

// RunOnce ticks every symbol once and reports whether all ticks succeeded.
func (d *Driver) RunOnce(ctx context.Context) bool {
	if !d.healthy(ctx) {
		return false
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok = true
	)
	for _, symbol := range d.cfg.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := d.tick(ctx, symbol); err != nil {
				mu.Lock()
				ok = false
				mu.Unlock()
			}
		}(symbol)
	}
	wg.Wait()
	return ok
}

func (d *Driver) tick(ctx context.Context, symbol string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.metrics.RecordError("tick_panic")
			d.log.Error("tick panicked",
				logger.String("symbol", symbol),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
		}
	}()

	res, err := d.engine.Tick(ctx, symbol)
	switch {
	case errors.Is(err, errs.ErrSessionBusy):
		d.log.Debug("session busy, skipping tick", logger.String("symbol", symbol))
		return nil
	case err != nil:
		d.metrics.RecordError(errorKind(err))
		d.log.Error("tick failed",
			logger.String("symbol", symbol),
			logger.String("session_id", res.SessionID),
			logger.String("stage", res.Stage),
			logger.String("state", string(res.From)),
			logger.Error(err),
		)
		return err
	}

	if res.Transitioned {
		d.log.Info("tick",
			logger.String("symbol", symbol),
			logger.String("stage", res.Stage),
			logger.String("from", string(res.From)),
			logger.String("to", string(res.To)),
			logger.String("reason", res.Reason),
		)
	} else {
		d.log.Debug("tick",
			logger.String("symbol", symbol),
			logger.String("stage", res.Stage),
			logger.String("state", string(res.From)),
			logger.String("reason", res.Reason),
		)
	}
	return nil
}

// healthy pings the bridge at most once per health interval.
func (d *Driver) healthy(ctx context.Context) bool {
	if d.health == nil || d.cfg.HealthInterval <= 0 {
		return true
	}
	now := d.now()
	if !d.lastHealthy.IsZero() && now.Sub(d.lastHealthy) < d.cfg.HealthInterval {
		return true
	}
	if err := d.health.Health(ctx); err != nil {
		d.metrics.RecordError("broker_health")
		d.log.Warn("broker bridge unhealthy, skipping tick", logger.Error(err))
		return false
	}
	d.lastHealthy = now
	return true
}

func errorKind(err error) string {
	switch {
	case errs.IsValidation(err):
		return "validation"
	case errs.IsDependency(err):
		return "dependency"
	case errs.IsStateConsistency(err):
		return "state_consistency"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "tick"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
