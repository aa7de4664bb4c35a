package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*SubmitGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSubmitGuard(client, time.Minute), mr
}

func TestSubmitKey(t *testing.T) {
	assert.Equal(t, "payment_submit:s1:waiter-7", SubmitKey("s1", "waiter-7"))
}

func TestNewSubmitGuardDefaultsTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	assert.Equal(t, defaultSubmitTTL, NewSubmitGuard(client, 0).TTL)
	assert.Equal(t, 5*time.Second, NewSubmitGuard(client, 5*time.Second).TTL)
}

func TestAcquireBlocksSecondSubmit(t *testing.T) {
	guard, mr := newGuard(t)
	ctx := context.Background()

	token, err := guard.Acquire(ctx, "s1", "waiter-7")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, time.Minute, mr.TTL(SubmitKey("s1", "waiter-7")))

	_, err = guard.Acquire(ctx, "s1", "waiter-7")
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	_, err = guard.Acquire(ctx, "s1", "guest-2")
	assert.NoError(t, err, "other clients are not blocked")
}

func TestReleaseOnlyDropsOwnToken(t *testing.T) {
	guard, mr := newGuard(t)
	ctx := context.Background()
	key := SubmitKey("s1", "waiter-7")

	token, err := guard.Acquire(ctx, "s1", "waiter-7")
	require.NoError(t, err)

	require.NoError(t, guard.Release(ctx, "s1", "waiter-7", "stale-token"))
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, token, got)

	require.NoError(t, guard.Release(ctx, "s1", "waiter-7", token))
	assert.False(t, mr.Exists(key))

	// released or expired locks are a no-op
	require.NoError(t, guard.Release(ctx, "s1", "waiter-7", token))
}

func TestReleaseAfterTakeover(t *testing.T) {
	guard, mr := newGuard(t)
	ctx := context.Background()

	first, err := guard.Acquire(ctx, "s1", "waiter-7")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	second, err := guard.Acquire(ctx, "s1", "waiter-7")
	require.NoError(t, err)

	require.NoError(t, guard.Release(ctx, "s1", "waiter-7", first))
	got, err := mr.Get(SubmitKey("s1", "waiter-7"))
	require.NoError(t, err)
	assert.Equal(t, second, got)
}
