package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridlink/core"
	"gridlink/protocol"
	"gridlink/store"
	"gridlink/store/db/memory"
)

type fakeFetcher struct {
	stats *protocol.TicketStats
	err   error
}

func (f *fakeFetcher) TicketStats(context.Context) (*protocol.TicketStats, error) {
	return f.stats, f.err
}

func TestRefreshStoresFreshStats(t *testing.T) {
	ctx := context.Background()
	st := store.New(memory.New())
	f := &fakeFetcher{stats: &protocol.TicketStats{ActiveCount: 4, Efficiency: "60%"}}
	svc := NewService(f, st, core.NewNopLogger())

	assert.Nil(t, svc.Cached(ctx))

	res, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 4, res.Stats.ActiveCount)

	cached := svc.Cached(ctx)
	require.NotNil(t, cached)
	assert.Equal(t, "60%", cached.Efficiency)
}

func TestRefreshFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	st := store.New(memory.New())
	require.NoError(t, st.SaveTicketStats(ctx, protocol.TicketStats{TotalCount: 7}))

	svc := NewService(&fakeFetcher{err: errors.New("connection refused")}, st, core.NewNopLogger())
	res, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 7, res.Stats.TotalCount)
}

func TestRefreshFailsWithoutCache(t *testing.T) {
	svc := NewService(&fakeFetcher{err: errors.New("boom")}, store.New(memory.New()), core.NewNopLogger())
	_, err := svc.Refresh(context.Background())
	assert.ErrorContains(t, err, "boom")
}
