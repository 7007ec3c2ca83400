package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, window time.Duration, tierOf TierLookup) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, window, tierOf), mr
}

func TestCheckAndIncrementWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute, nil)
	ctx := context.Background()

	res, err := l.CheckAndIncrement(ctx, "ws-1", "sms")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 10, res.Limit)
	assert.Equal(t, 9, res.Remaining)
}

func TestCheckAndIncrementExhaustsWindow(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := l.CheckAndIncrement(ctx, "ws-1", "sms")
		require.NoError(t, err)
		require.True(t, res.Allowed, "send %d", i+1)
	}

	// ceiling reached; denials do not run the counter past the limit
	for i := 0; i < 3; i++ {
		res, err := l.CheckAndIncrement(ctx, "ws-1", "sms")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	}
}

func TestTierCeilings(t *testing.T) {
	tiers := map[string]Tier{
		"ws-free":       TierFree,
		"ws-basic":      TierBasic,
		"ws-premium":    TierPremium,
		"ws-enterprise": TierEnterprise,
	}
	l, _ := newTestLimiter(t, time.Minute, func(ws string) Tier { return tiers[ws] })
	ctx := context.Background()

	expected := map[string]int{
		"ws-free":       10,
		"ws-basic":      100,
		"ws-premium":    500,
		"ws-enterprise": 2000,
	}
	for ws, limit := range expected {
		res, err := l.CheckAndIncrement(ctx, ws, "sms")
		require.NoError(t, err)
		assert.Equal(t, limit, res.Limit, ws)
	}
}

func TestWindowsAreIndependentPerTypeAndWorkspace(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := l.CheckAndIncrement(ctx, "ws-1", "sms")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	denied, err := l.CheckAndIncrement(ctx, "ws-1", "sms")
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	other, err := l.CheckAndIncrement(ctx, "ws-1", "mms")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "different message type has its own window")

	neighbor, err := l.CheckAndIncrement(ctx, "ws-2", "sms")
	require.NoError(t, err)
	assert.True(t, neighbor.Allowed, "different workspace has its own window")
}

func TestWindowResetsViaTTL(t *testing.T) {
	l, mr := newTestLimiter(t, time.Second, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := l.CheckAndIncrement(ctx, "ws-1", "sms")
		require.NoError(t, err)
	}
	res, err := l.CheckAndIncrement(ctx, "ws-1", "sms")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// expire the window key and wait out the window boundary
	mr.FastForward(2 * time.Second)
	time.Sleep(1100 * time.Millisecond)

	res, err = l.CheckAndIncrement(ctx, "ws-1", "sms")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "fresh window after TTL expiry")
}
