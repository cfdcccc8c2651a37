package ratelimiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Hour)
	for i := 0; i < 3; i++ {
		assert.Zero(t, rl.reserve(), "call %d should not wait", i+1)
	}
	assert.Greater(t, rl.reserve(), time.Duration(0))
}

func TestRateLimiter_ResetsAfterInterval(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return current }
	rl.lastReset = base

	assert.Zero(t, rl.reserve())
	assert.Equal(t, time.Minute, rl.reserve())

	current = base.Add(time.Minute)
	assert.Zero(t, rl.reserve())
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Hour)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(50, time.Hour)
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.reserve() == 0 {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), granted.Load())
}
