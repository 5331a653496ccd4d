package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"callSpread/internal/model"
)

// Needs a live server: CALLSPREAD_TEST_REDIS_ADDR=localhost:6379.
func newTestLeases(t *testing.T) (*LeaseManager, *Client) {
	t.Helper()
	addr := os.Getenv("CALLSPREAD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CALLSPREAD_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return NewLeaseManager(c, zap.NewNop()), c
}

func TestLeaseExclusive(t *testing.T) {
	leases, _ := newTestLeases(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	release, err := leases.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)

	_, err = leases.Acquire(ctx, key, 10*time.Second)
	require.ErrorIs(t, err, model.ErrLockHeld)

	release()
	release()

	again, err := leases.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	again()
}

func TestLeaseRenewedWhileHeld(t *testing.T) {
	leases, _ := newTestLeases(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	release, err := leases.Acquire(ctx, key, 300*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(900 * time.Millisecond)

	_, err = leases.Acquire(ctx, key, 10*time.Second)
	require.ErrorIs(t, err, model.ErrLockHeld)
	release()
}

func TestLostLeaseDoesNotFreeNewHolder(t *testing.T) {
	leases, c := newTestLeases(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	stale, err := leases.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, c.rdb.Del(ctx, "lease:"+key).Err())

	fresh, err := leases.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)

	stale()
	_, err = leases.Acquire(ctx, key, 10*time.Second)
	require.ErrorIs(t, err, model.ErrLockHeld)
	fresh()
}
