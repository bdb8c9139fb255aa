package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_SpacesRequestsPerHost(t *testing.T) {
	rl := NewRateLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, rl.Wait(ctx, "https://ocw.mit.edu/a"))
	require.NoError(t, rl.Wait(ctx, "https://OCW.mit.edu/b"))
	require.NoError(t, rl.Wait(ctx, "https://ocw.mit.edu/c"))

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRateLimiter_HostsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx, "https://a.example.com/"))
	require.NoError(t, rl.Wait(ctx, "https://b.example.com/"))
}

func TestRateLimiter_HonoursContext(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	require.NoError(t, rl.Wait(context.Background(), "https://ocw.mit.edu/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, rl.Wait(ctx, "https://ocw.mit.edu/"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Wait(context.Background(), "https://ocw.mit.edu/"))
	}

	var nilLimiter *RateLimiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), "https://ocw.mit.edu/"))
}
