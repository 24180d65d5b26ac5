package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/store"
)

func TestSessionService_GetReinforces(t *testing.T) {
	st := store.NewSessionMemoryStore(16, 30*24*time.Hour)
	svc := NewSessionService(st, zap.NewNop())

	require.NoError(t, st.Put(context.Background(), &domain.Session{
		ID:         "01J0000000000000000000001",
		Summary:    "deploys happen at noon",
		Importance: 0.6,
	}))

	view, err := svc.Get(context.Background(), "01J0000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, 1, view.AccessCount)
	assert.Greater(t, view.CurrentImportance, 0.0)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionService_ListShowsDecayedImportance(t *testing.T) {
	st := store.NewSessionMemoryStore(16, 30*24*time.Hour)
	svc := NewSessionService(st, zap.NewNop())

	base := time.Now().Add(-10 * 24 * time.Hour)
	st.SetClock(func() time.Time { return base })
	require.NoError(t, st.Put(context.Background(), &domain.Session{
		ID:         "01J0000000000000000000001",
		Summary:    "old summary",
		Importance: 0.8,
	}))
	st.SetClock(time.Now)

	views, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)

	// Ten days of tier-1 decay, no accesses.
	assert.Less(t, views[0].CurrentImportance, 0.8)
	assert.Greater(t, views[0].CurrentImportance, 0.0)
	assert.Zero(t, views[0].AccessCount, "listing must not reinforce")
}
