package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordSleeps(out *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*out = append(*out, d)
		return nil
	})
}

func TestDo_RetriesWithExponentialBackoff(t *testing.T) {
	var sleeps []time.Duration
	g := New(OrderPolicy(), recordSleeps(&sleeps))

	calls := 0
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("rejected")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond}, sleeps)
}

func TestDo_StopsOnSuccess(t *testing.T) {
	var sleeps []time.Duration
	g := New(OrderPolicy(), recordSleeps(&sleeps))

	calls := 0
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, sleeps, 1)
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	g := New(OrderPolicy(), WithSleep(func(context.Context, time.Duration) error { return nil }))
	calls := 0
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errors.New("invalid volume"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(err))
}

func TestDo_AttemptTimeout(t *testing.T) {
	g := New(AdvisorPolicy(20 * time.Millisecond))
	err := g.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_BreakerOpens(t *testing.T) {
	p := Policy{Name: "bridge", MaxAttempts: 1, TripAfter: 2, Cooldown: time.Minute}
	g := New(p)
	boom := func(context.Context) error { return errors.New("down") }

	require.Error(t, g.Do(context.Background(), boom))
	require.Error(t, g.Do(context.Background(), boom))
	assert.Equal(t, "open", g.State())

	calls := 0
	err := g.Do(context.Background(), func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	g := New(OrderPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCall(t *testing.T) {
	g := New(Policy{Name: "calc", MaxAttempts: 1})
	v, err := Call(context.Background(), g, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, "disabled", g.State())
}
