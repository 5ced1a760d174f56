package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), ClientConfig{Addr: addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
}

func TestQuoteCacheRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	qc := NewQuoteCache(c, time.Hour)
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 18, 0, 0, 42, time.UTC)

	_, _, err := qc.GetQuote(ctx, "0xabc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, qc.SetQuote(ctx, "0xabc", "clob", domain.Quote{Yes: 0.085, No: 0.915}, ts))

	q, got, err := qc.GetQuote(ctx, "0xabc")
	require.NoError(t, err)
	assert.InDelta(t, 0.085, q.Yes, 1e-12)
	assert.InDelta(t, 0.915, q.No, 1e-12)
	assert.True(t, ts.Equal(got))

	assert.Equal(t, "clob", mr.HGet("quote:0xabc", "source"))
	assert.Equal(t, time.Hour, mr.TTL("quote:0xabc"))

	mr.FastForward(2 * time.Hour)
	_, _, err = qc.GetQuote(ctx, "0xabc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockExclusive(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	first, err := lm.Acquire(ctx, "weatherbot:runner", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "weatherbot:runner", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	first.Release()
	first.Release()
	assert.False(t, mr.Exists("lock:weatherbot:runner"))

	second, err := lm.Acquire(ctx, "weatherbot:runner", time.Minute)
	require.NoError(t, err)
	second.Release()
}

func TestLockRefresh(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lock, err := lm.Acquire(ctx, "weatherbot:runner", time.Minute)
	require.NoError(t, err)

	mr.FastForward(40 * time.Second)
	require.NoError(t, lock.Refresh(ctx))
	assert.Equal(t, time.Minute, mr.TTL("lock:weatherbot:runner"))

	// Expired and taken by someone else.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set("lock:weatherbot:runner", "other"))
	assert.ErrorIs(t, lock.Refresh(ctx), domain.ErrLockHeld)

	// Release must not delete another holder's key.
	lock.Release()
	assert.True(t, mr.Exists("lock:weatherbot:runner"))
}
