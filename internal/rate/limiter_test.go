package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiter_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	l := NewRedisLimiter(client, "test:")
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.AllowWithLimits(ctx, "scanner 1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "hit %d", i)
		assert.Equal(t, int64(3-i), res.Remaining)
	}

	res, err := l.AllowWithLimits(ctx, "scanner 1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(4), res.CurrentHits)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	other, err := l.AllowWithLimits(ctx, "scanner-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	assert.True(t, mr.Exists("test:scanner_1:"+"1767268800"))
	ttl := mr.TTL("test:scanner_1:1767268800")
	assert.Equal(t, time.Minute, ttl)

	now = now.Add(time.Minute)
	res, err = l.AllowWithLimits(ctx, "scanner 1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "new window")
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisLimiter(client, "").AllowWithLimits(context.Background(), "k", 1, time.Minute)
	assert.Error(t, err)
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.AllowWithLimits(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.AllowWithLimits(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Equal(t, 30*time.Second, res.RetryAfter)

	now = now.Add(30 * time.Second)
	res, err = l.AllowWithLimits(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestPolicy(t *testing.T) {
	assert.True(t, ScanPolicy.Enabled())
	assert.False(t, Policy{}.Enabled())
	assert.Equal(t, 150, ScanPolicy.Limit)
}
