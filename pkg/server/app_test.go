package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.log = append(e.log, s)
	e.mu.Unlock()
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type loopRunner struct {
	ev  *events
	err error
}

func (r loopRunner) Run(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}
	<-ctx.Done()
	r.ev.add("runner done")
	return ctx.Err()
}

type fakeWorker struct {
	name     string
	ev       *events
	startErr error
}

func (w fakeWorker) Start(context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.ev.add(w.name + " start")
	return nil
}

func (w fakeWorker) Stop(context.Context) error {
	w.ev.add(w.name + " stop")
	return nil
}

type fakeHTTP struct {
	ev    *events
	errCh chan error
}

func (h *fakeHTTP) Start() error      { h.ev.add("http start"); return nil }
func (h *fakeHTTP) Err() <-chan error { return h.errCh }
func (h *fakeHTTP) Stop(context.Context) error {
	h.ev.add("http stop")
	return nil
}

func runAsync(a *App, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
		return nil
	}
}

func TestApp_CancelStopsEverythingInOrder(t *testing.T) {
	ev := &events{}
	httpSrv := &fakeHTTP{ev: ev, errCh: make(chan error, 1)}
	a := New(nil,
		WithHTTPServer(httpSrv),
		WithWorker("consumer", fakeWorker{name: "consumer", ev: ev}),
		WithWorker("queue", fakeWorker{name: "queue", ev: ev}),
		WithRunner("driver", loopRunner{ev: ev}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(a, ctx)
	require.Eventually(t, func() bool { return len(ev.list()) >= 3 }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, wait(t, done))
	assert.Equal(t, []string{
		"consumer start", "queue start", "http start",
		"runner done",
		"http stop", "queue stop", "consumer stop",
	}, ev.list())
}

func TestApp_RunnerFailureShutsDown(t *testing.T) {
	ev := &events{}
	a := New(nil,
		WithRunner("stream", loopRunner{ev: ev, err: errors.New("dial refused")}),
		WithRunner("driver", loopRunner{ev: ev}),
	)

	err := wait(t, runAsync(a, context.Background()))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream: dial refused")
	assert.Equal(t, []string{"runner done"}, ev.list())
}

func TestApp_HTTPFailureShutsDown(t *testing.T) {
	ev := &events{}
	httpSrv := &fakeHTTP{ev: ev, errCh: make(chan error, 1)}
	httpSrv.errCh <- errors.New("address already in use")
	a := New(nil, WithHTTPServer(httpSrv), WithRunner("driver", loopRunner{ev: ev}))

	err := wait(t, runAsync(a, context.Background()))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
}

func TestApp_WorkerStartFailureUnwinds(t *testing.T) {
	ev := &events{}
	a := New(nil,
		WithWorker("consumer", fakeWorker{name: "consumer", ev: ev}),
		WithWorker("queue", fakeWorker{name: "queue", ev: ev, startErr: errors.New("redis ping: refused")}),
	)

	err := a.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "start queue")
	assert.Equal(t, []string{"consumer start", "consumer stop"}, ev.list())
}

func TestApp_NilComponentsIgnored(t *testing.T) {
	a := New(nil, WithRunner("none", nil), WithWorker("none", nil))
	assert.Empty(t, a.runners)
	assert.Empty(t, a.workers)
}
