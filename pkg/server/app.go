package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"SweepTrader/pkg/logger"
)

// Runner is a long-lived loop that returns when ctx ends (driver, quote stream).
type Runner interface {
	Run(ctx context.Context) error
}

// Worker starts in the background and is stopped explicitly (kafka consumer,
// redis queue).
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HTTPServer is the ops API.
type HTTPServer interface {
	Start() error
	Err() <-chan error
	Stop(ctx context.Context) error
}

type named[T any] struct {
	name string
	v    T
}

// App owns the process lifecycle: it starts everything, waits for a signal or
// a fatal error, then stops in reverse order. Infrastructure is closed by the
// cleanup returned from the injector.
type App struct {
	log             *logger.Logger
	http            HTTPServer
	runners         []named[Runner]
	workers         []named[Worker]
	shutdownTimeout time.Duration
	signals         []os.Signal
}

type Option func(*App)

func WithHTTPServer(s HTTPServer) Option {
	return func(a *App) { a.http = s }
}

func WithRunner(name string, r Runner) Option {
	return func(a *App) {
		if r != nil {
			a.runners = append(a.runners, named[Runner]{name, r})
		}
	}
}

func WithWorker(name string, w Worker) Option {
	return func(a *App) {
		if w != nil {
			a.workers = append(a.workers, named[Worker]{name, w})
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

func New(log *logger.Logger, opts ...Option) *App {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{
		log:             log,
		shutdownTimeout: 15 * time.Second,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run blocks until ctx is cancelled, SIGINT/SIGTERM arrives, a runner fails,
// or the HTTP listener dies.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, a.signals...)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	started := 0
	for _, w := range a.workers {
		if err := w.v.Start(ctx); err != nil {
			a.stopWorkers(a.workers[:started])
			return fmt.Errorf("start %s: %w", w.name, err)
		}
		a.log.Info("worker started", logger.String("worker", w.name))
		started++
	}

	var httpErr <-chan error
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			a.stopWorkers(a.workers)
			return fmt.Errorf("start http server: %w", err)
		}
		httpErr = a.http.Err()
	}

	var wg sync.WaitGroup
	for _, r := range a.runners {
		wg.Add(1)
		go func(r named[Runner]) {
			defer wg.Done()
			err := r.v.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("runner stopped", logger.String("runner", r.name), logger.Error(err))
				cancel(fmt.Errorf("%s: %w", r.name, err))
			}
		}(r)
	}

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		cancel(fmt.Errorf("http server: %w", err))
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, context.Canceled) {
		cause = nil
	}
	a.log.Info("shutting down", logger.Error(cause))

	cancel(nil)
	wg.Wait()
	a.shutdown()
	return cause
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil {
			a.log.Error("http shutdown", logger.Error(err))
		}
	}
	a.stopWorkersCtx(ctx, a.workers)
	a.log.Info("shutdown complete")
}

func (a *App) stopWorkers(ws []named[Worker]) {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	a.stopWorkersCtx(ctx, ws)
}

func (a *App) stopWorkersCtx(ctx context.Context, ws []named[Worker]) {
	for i := len(ws) - 1; i >= 0; i-- {
		if err := ws[i].v.Stop(ctx); err != nil {
			a.log.Warn("worker stop", logger.String("worker", ws[i].name), logger.Error(err))
		}
	}
}
