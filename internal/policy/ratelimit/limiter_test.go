package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "host b blocked by host a")
}

func TestLimiter_ContextCancelled(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com"))
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Unlimited())
	require.NoError(t, nilLimiter.Wait(context.Background(), "::bad"))

	l := New(Config{})
	assert.True(t, l.Unlimited())
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.com"))
	}
}

func TestLimiter_InvalidURL(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 5})
	require.Error(t, l.Wait(context.Background(), "/relative/only"))
}
