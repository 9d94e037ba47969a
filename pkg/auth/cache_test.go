package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCache_GetOrAcquire_CachesAcrossCalls(t *testing.T) {
	c := NewTokenCache()
	var calls int32

	acquire := func(ctx context.Context) (string, time.Time, error) {
		atomic.AddInt32(&calls, 1)
		return "tok-1", time.Now().Add(time.Hour), nil
	}

	tok1, err := c.GetOrAcquire(context.Background(), "k", acquire)
	require.NoError(t, err)
	tok2, err := c.GetOrAcquire(context.Background(), "k", acquire)
	require.NoError(t, err)

	assert.Equal(t, "tok-1", tok1)
	assert.Equal(t, "tok-1", tok2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

// TestTokenCache_GetOrAcquire_CollapsesConcurrentRefreshes verifies the
// singleflight.Group in TokenCache collapses N concurrent GetOrAcquire
// calls for the same key into exactly one acquire invocation.
func TestTokenCache_GetOrAcquire_CollapsesConcurrentRefreshes(t *testing.T) {
	c := NewTokenCache()
	var calls int32
	start := make(chan struct{})

	acquire := func(ctx context.Context) (string, time.Time, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "tok", time.Now().Add(time.Hour), nil
	}

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tok, err := c.GetOrAcquire(context.Background(), "shared", acquire)
			require.NoError(t, err)
			results[i] = tok
		}(i)
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "tok", r)
	}
}

func TestTokenCache_GetOrAcquire_ReacquiresAfterExpiry(t *testing.T) {
	c := NewTokenCache()
	c.Set("k", "stale", time.Now().Add(-time.Minute)) // already expired

	var calls int32
	tok, err := c.GetOrAcquire(context.Background(), "k", func(ctx context.Context) (string, time.Time, error) {
		atomic.AddInt32(&calls, 1)
		return "fresh", time.Now().Add(time.Hour), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTokenCache_Get_HonorsRefreshMargin(t *testing.T) {
	c := NewTokenCache()
	// Expires in 1 minute, well inside tokenRefreshMargin (5 minutes):
	// Get must treat it as unusable even though it hasn't technically
	// expired yet.
	c.Set("k", "soon-to-expire", time.Now().Add(time.Minute))
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTokenCache_Invalidate(t *testing.T) {
	c := NewTokenCache()
	c.Set("k", "tok", time.Now().Add(time.Hour))
	_, ok := c.Get("k")
	require.True(t, ok)

	c.Invalidate("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTokenCache_GetOrAcquire_PropagatesError(t *testing.T) {
	c := NewTokenCache()
	_, err := c.GetOrAcquire(context.Background(), "k", func(ctx context.Context) (string, time.Time, error) {
		return "", time.Time{}, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	// A failed acquire must not poison the cache for a subsequent call.
	_, ok := c.Get("k")
	assert.False(t, ok)
}
