package admission

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slotContract runs the same scenario against every SlotStore
func slotContract(t *testing.T, slot SlotStore, expire func()) {
	ctx := context.Background()

	_, ok, err := slot.Current(ctx)
	require.Nil(t, err)
	assert.False(t, ok)

	ok, err = slot.Acquire(ctx, Lease{ConnectionID: "c1", Key: "k1"}, time.Minute)
	require.Nil(t, err)
	assert.True(t, ok)

	ok, err = slot.Acquire(ctx, Lease{ConnectionID: "c2", Key: "k2"}, time.Minute)
	require.Nil(t, err)
	assert.False(t, ok)

	lease, ok, err := slot.Current(ctx)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, "k1", lease.Key)

	ok, err = slot.Refresh(ctx, "c2", time.Minute)
	require.Nil(t, err)
	assert.False(t, ok)
	ok, err = slot.Refresh(ctx, "c1", time.Minute)
	require.Nil(t, err)
	assert.True(t, ok)

	ok, err = slot.Release(ctx, "c2")
	require.Nil(t, err)
	assert.False(t, ok)
	ok, err = slot.Release(ctx, "c1")
	require.Nil(t, err)
	assert.True(t, ok)
	ok, err = slot.Release(ctx, "c1")
	require.Nil(t, err)
	assert.False(t, ok)

	ok, err = slot.Acquire(ctx, Lease{ConnectionID: "c3", Key: "k3"}, time.Minute)
	require.Nil(t, err)
	assert.True(t, ok)

	expire()

	_, ok, err = slot.Current(ctx)
	require.Nil(t, err)
	assert.False(t, ok)

	ok, err = slot.Acquire(ctx, Lease{ConnectionID: "c4", Key: "k4"}, time.Minute)
	require.Nil(t, err)
	assert.True(t, ok)
}

func TestMemorySlot(t *testing.T) {
	clock := newFakeClock()
	slot := NewMemorySlot(clock)

	slotContract(t, slot, func() { clock.Advance(time.Minute) })
}

// TestRedisSlot needs a disposable redis, e.g. ROBOSIGNAL_TEST_REDIS_ADDR=localhost:6379
func TestRedisSlot(t *testing.T) {
	addr := os.Getenv("ROBOSIGNAL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROBOSIGNAL_TEST_REDIS_ADDR is not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	key := DefaultSlotKey + ":test"
	require.Nil(t, rdb.Del(context.Background(), key).Err())
	defer rdb.Del(context.Background(), key)

	slot := NewRedisSlot(rdb, key)

	slotContract(t, slot, func() {
		require.Nil(t, rdb.Del(context.Background(), key).Err())
	})
}
