package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
	"github.com/nicktill/demandcast/pkg/storage/storagetest"
)

func TestMemoryStorage_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}

func TestMemoryStorage_HistoryIsACopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	id := bucket.MustParse("2012-03-01T00")

	_, err := store.AddCounts(ctx, map[bucket.ID]int{id: 1})
	require.NoError(t, err)

	history, err := store.History(ctx, storage.Ascending)
	require.NoError(t, err)
	history[0].Count = 99

	r, err := store.HistoryRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count)
}

func TestMemoryStorage_EmptyStats(t *testing.T) {
	stats, err := New().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &storage.Stats{}, stats)
}

func TestMemoryStorage_ResetKeepsStoreUsable(t *testing.T) {
	store := New()
	ctx := context.Background()
	id := bucket.MustParse("2012-03-01T00")

	require.NoError(t, store.Reset(ctx))
	require.NoError(t, store.PutOutlier(ctx, demand.ManualOutlier{Bucket: id, Reason: demand.DefaultOutlierReason}))

	outliers, err := store.Outliers(ctx)
	require.NoError(t, err)
	assert.Len(t, outliers, 1)
}
