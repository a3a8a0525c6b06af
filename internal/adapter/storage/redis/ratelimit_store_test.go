package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitStore_AllowWithinLimit(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRateLimitStore(client)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		res, err := store.Allow(ctx, "pubkey-a", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, int64(5), res.Limit)
		assert.Equal(t, 5-i, res.Remaining)
	}

	// Sixth request in the same window is blocked.
	res, err := store.Allow(ctx, "pubkey-a", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestRateLimitStore_KeysAreIndependent(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRateLimitStore(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Allow(ctx, "pubkey-a", 2, time.Minute)
		require.NoError(t, err)
	}

	res, err := store.Allow(ctx, "pubkey-b", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Remaining)
}

func TestRateLimitStore_ResetAtIsWindowAligned(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRateLimitStore(client)

	res, err := store.Allow(context.Background(), "pubkey-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Greater(t, res.ResetAt, time.Now().Unix())
	assert.LessOrEqual(t, res.ResetAt, time.Now().Add(time.Minute).Unix()+1)
}
