package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/arca-edge/internal/domain"
)

type fakeClock struct{ unix atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.unix.Store(time.Unix(1_700_000_000, 0).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.unix.Load()) }
func (c *fakeClock) Advance(d time.Duration) { c.unix.Add(int64(d)) }

func newTestLimiter(t *testing.T, store Store) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	l, err := New(Config{MaxAttempts: 5, Window: 900 * time.Second}, store, WithClock(clock.Now))
	require.NoError(t, err)
	return l, clock
}

func TestLimiterWindowing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, clock := newTestLimiter(t, nil)

	for i := range 5 {
		res, err := l.Check(ctx, "login:203.0.113.7")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := l.Check(ctx, "login:203.0.113.7")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 900*time.Second, res.RetryAfter)

	clock.Advance(900*time.Second + time.Second)

	res, err = l.Check(ctx, "login:203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestLimiterDeniedAttemptsAreNotCounted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	l, _ := newTestLimiter(t, store)

	for range 20 {
		_, err := l.Check(ctx, "k")
		require.NoError(t, err)
	}
	var count int
	require.NoError(t, store.Update(ctx, "k", func(cur domain.RateLimitEntry, _ bool) domain.RateLimitEntry {
		count = cur.Count
		return cur
	}))
	assert.Equal(t, 5, count)
}

func TestLimiterReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := newTestLimiter(t, nil)

	for range 6 {
		_, err := l.Check(ctx, "k")
		require.NoError(t, err)
	}
	require.NoError(t, l.Reset(ctx, "k"))

	res, err := l.Check(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestLimiterIsolatesKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := newTestLimiter(t, nil)

	for range 6 {
		_, _ = l.Check(ctx, "key-a")
	}
	res, err := l.Check(ctx, "key-b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	l, clock := newTestLimiter(t, store)

	_, _ = l.Check(ctx, "stale")
	clock.Advance(10 * time.Minute)
	_, _ = l.Check(ctx, "fresh")
	clock.Advance(6 * time.Minute)

	n, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())
}

func TestLimiterRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxAttempts: 0, Window: time.Minute}, nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
	_, err = New(Config{MaxAttempts: 5}, nil)
	assert.ErrorIs(t, err, domain.ErrConfig)

	l, err := New(Config{MaxAttempts: 1, Window: time.Minute}, nil)
	require.NoError(t, err)
	_, err = l.Check(context.Background(), "")
	assert.Error(t, err)
}

func TestLimiterConcurrentChecksNeverExceedBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := newTestLimiter(t, nil)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(ctx, "shared")
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 5, allowed.Load())
}

func BenchmarkLimiterCheckParallel(b *testing.B) {
	l, err := New(Config{MaxAttempts: 1 << 30, Window: time.Hour}, nil)
	if err != nil {
		b.Fatal(err)
	}
	var seq atomic.Int64
	b.RunParallel(func(pb *testing.PB) {
		key := fmt.Sprintf("ip-%d", seq.Add(1))
		for pb.Next() {
			_, _ = l.Check(context.Background(), key)
		}
	})
}

func TestLimiterRunSweepsUntilCancelled(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	l, clock := newTestLimiter(t, store)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := l.Check(ctx, "login:198.51.100.7")
	require.NoError(t, err)
	clock.Advance(time.Hour)

	swept := make(chan int, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx, 5*time.Millisecond, func(n int, err error) {
			if err == nil {
				swept <- n
			}
		})
	}()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.NotEmpty(t, swept)
}
