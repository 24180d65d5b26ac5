package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolidationLock_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	l1 := NewConsolidationLock(client, "tenant-a")
	l2 := NewConsolidationLock(client, "tenant-a")

	ok, err := l1.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l2.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder should lose without error")

	require.NoError(t, l1.Release(ctx))

	ok, err = l2.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be free after release")
}

func TestConsolidationLock_ReleaseSkipsForeignToken(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	l1 := NewConsolidationLock(client, "tenant-a")
	l2 := NewConsolidationLock(client, "tenant-a")

	ok, err := l1.Acquire(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// TTL lapses, another holder takes over.
	mr.FastForward(100 * time.Millisecond)

	ok, err = l2.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Stale release must not free the new holder's lock.
	require.NoError(t, l1.Release(ctx))

	l3 := NewConsolidationLock(client, "tenant-a")
	ok, err = l3.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsolidationLock_ReleaseWithoutAcquire(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	l := NewConsolidationLock(client, "tenant-a")
	assert.NoError(t, l.Release(ctx))
}

func TestConsolidationLock_TenantsIndependent(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	la := NewConsolidationLock(client, "tenant-a")
	lb := NewConsolidationLock(client, "tenant-b")

	ok, err := la.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lb.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
