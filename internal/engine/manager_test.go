package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/knowledge"
	"github.com/stratumhq/stratum/internal/summarizer"
)

type managerFixture struct {
	mr  *miniredis.Miniredis
	mgr *Manager
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	base := Options{
		Redis:      client,
		Knowledge:  knowledge.NewMockStore(),
		Summarizer: summarizer.NewMockClient(),
		Logger:     zap.NewNop(),
	}
	mgr := NewManager(base, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return &managerFixture{mr: mr, mgr: mgr}
}

func TestManager_CreateAssignsID(t *testing.T) {
	f := newManagerFixture(t)

	eng, err := f.mgr.Create("")
	require.NoError(t, err)
	assert.NotEmpty(t, eng.TenantID())

	got, err := f.mgr.Get(eng.TenantID())
	require.NoError(t, err)
	assert.Same(t, eng, got)
}

func TestManager_CreateDuplicate(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.mgr.Create("tenant-a")
	require.NoError(t, err)

	_, err = f.mgr.Create("tenant-a")
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, 1, f.mgr.Len())
}

func TestManager_GetUnknown(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.mgr.Get("ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_DeletePurgesState(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)

	eng, err := f.mgr.Create("tenant-a")
	require.NoError(t, err)
	err = eng.WorkingLog.Append(ctx, &domain.Item{Content: "note", Importance: 0.5})
	require.NoError(t, err)
	require.True(t, f.mr.Exists("stratum:tenant-a:log"))

	require.NoError(t, f.mgr.Delete(ctx, "tenant-a"))

	_, err = f.mgr.Get("tenant-a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, f.mr.Exists("stratum:tenant-a:log"))

	assert.ErrorIs(t, f.mgr.Delete(ctx, "tenant-a"), domain.ErrNotFound)
}

func TestManager_TenantIDsSorted(t *testing.T) {
	f := newManagerFixture(t)

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		_, err := f.mgr.Create(id)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, f.mgr.TenantIDs())
}

func TestManager_Shutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f := newManagerFixture(t)
	for _, id := range []string{"a", "b"} {
		_, err := f.mgr.Create(id)
		require.NoError(t, err)
	}

	f.mgr.Shutdown(ctx)
	assert.Equal(t, 0, f.mgr.Len())

	// The registry stays usable after shutdown.
	_, err := f.mgr.Create("c")
	require.NoError(t, err)
}
