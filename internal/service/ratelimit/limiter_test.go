package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter(t *testing.T) {
	l := New()
	l.Configure("calendar", 1, 2)

	assert.True(t, l.Allow("calendar"))
	assert.True(t, l.Allow("calendar"))
	assert.False(t, l.Allow("calendar"))

	assert.True(t, l.Allow("unconfigured"))
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := New()
	l.Configure("advisor", 1, 1)
	require.True(t, l.Allow("advisor"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "advisor"))
	assert.NoError(t, l.Wait(context.Background(), "other"))
}
