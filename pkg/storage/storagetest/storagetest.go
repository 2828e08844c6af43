// Package storagetest holds the behaviour every storage.Store backend must
// share. Backends call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
)

// Opener returns an empty store. The store is closed by the suite.
type Opener func(t *testing.T) storage.Store

// Run executes the conformance suite against stores created by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"AddCountsInsertsThenIncrements", testAddCounts},
		{"HistoryOrdering", testHistoryOrdering},
		{"HistoryRecordNotFound", testHistoryRecordNotFound},
		{"OutliersUpsert", testOutliersUpsert},
		{"MultipliersUpsert", testMultipliersUpsert},
		{"PredictionsReplaceAndDelete", testPredictions},
		{"Reset", testReset},
		{"Stats", testStats},
		{"ConcurrentAddCounts", testConcurrentAddCounts},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			tc.fn(t, s)
		})
	}
}

var (
	h0 = bucket.MustParse("2012-03-01T00")
	h1 = bucket.MustParse("2012-03-01T01")
	h2 = bucket.MustParse("2012-03-02T13")
)

func testAddCounts(t *testing.T, s storage.Store) {
	ctx := context.Background()

	res, err := s.AddCounts(ctx, map[bucket.ID]int{h0: 3, h1: 4})
	require.NoError(t, err)
	assert.Equal(t, storage.AddResult{Inserted: 2}, res)

	res, err = s.AddCounts(ctx, map[bucket.ID]int{h0: 2, h2: 1})
	require.NoError(t, err)
	assert.Equal(t, storage.AddResult{Inserted: 1, Updated: 1}, res)

	r, err := s.HistoryRecord(ctx, h0)
	require.NoError(t, err)
	assert.Equal(t, demand.NewHistoryRecord(h0, 5), r)
	assert.Equal(t, "Th", r.Weekday)
}

func testHistoryOrdering(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.AddCounts(ctx, map[bucket.ID]int{h2: 1, h0: 1, h1: 1})
	require.NoError(t, err)

	asc, err := s.History(ctx, storage.Ascending)
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, []bucket.ID{h0, h1, h2}, ids(asc))

	desc, err := s.History(ctx, storage.Descending)
	require.NoError(t, err)
	assert.Equal(t, []bucket.ID{h2, h1, h0}, ids(desc))
}

func testHistoryRecordNotFound(t *testing.T, s storage.Store) {
	_, err := s.HistoryRecord(context.Background(), h0)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	history, err := s.History(context.Background(), storage.Ascending)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func testOutliersUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutOutlier(ctx, demand.ManualOutlier{Bucket: h1, Reason: "first"}))
	require.NoError(t, s.PutOutlier(ctx, demand.ManualOutlier{Bucket: h0, Reason: "Easter"}))
	require.NoError(t, s.PutOutlier(ctx, demand.ManualOutlier{Bucket: h1, Reason: "Uber Down"}))

	got, err := s.Outliers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []demand.ManualOutlier{
		{Bucket: h0, Reason: "Easter"},
		{Bucket: h1, Reason: "Uber Down"},
	}, got)
}

func testMultipliersUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutMultiplier(ctx, demand.PredictedMultiplier{Bucket: h2, Multiplier: 1.5, Reason: "a"}))
	require.NoError(t, s.PutMultiplier(ctx, demand.PredictedMultiplier{Bucket: h2, Multiplier: 1.4, Reason: "b"}))

	got, err := s.Multipliers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []demand.PredictedMultiplier{{Bucket: h2, Multiplier: 1.4, Reason: "b"}}, got)
}

func testPredictions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutPredictions(ctx, []demand.Prediction{
		{Bucket: h1, Count: 2.5},
		{Bucket: h0, Count: 1.25},
	}))
	require.NoError(t, s.PutPredictions(ctx, []demand.Prediction{{Bucket: h1, Count: 7}}))

	got, err := s.Predictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []demand.Prediction{{Bucket: h0, Count: 1.25}, {Bucket: h1, Count: 7}}, got)

	n, err := s.DeletePredictions(ctx, []bucket.ID{h0, h2})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = s.Predictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []demand.Prediction{{Bucket: h1, Count: 7}}, got)
}

func testReset(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.AddCounts(ctx, map[bucket.ID]int{h0: 1})
	require.NoError(t, err)
	require.NoError(t, s.PutOutlier(ctx, demand.ManualOutlier{Bucket: h0, Reason: "x"}))
	require.NoError(t, s.PutMultiplier(ctx, demand.PredictedMultiplier{Bucket: h1, Multiplier: 2}))
	require.NoError(t, s.PutPredictions(ctx, []demand.Prediction{{Bucket: h1, Count: 1}}))

	require.NoError(t, s.Reset(ctx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.HistoryRows)
	assert.Zero(t, stats.Outliers)
	assert.Zero(t, stats.Multipliers)
	assert.Zero(t, stats.Predictions)
}

func testStats(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.AddCounts(ctx, map[bucket.ID]int{h1: 1, h2: 1, h0: 1})
	require.NoError(t, err)
	require.NoError(t, s.PutPredictions(ctx, []demand.Prediction{{Bucket: h2.AddHours(1), Count: 1}}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.HistoryRows)
	assert.Equal(t, uint64(1), stats.Predictions)
	assert.Equal(t, h0, stats.OldestBucket)
	assert.Equal(t, h2, stats.NewestBucket)
}

func testConcurrentAddCounts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddCounts(ctx, map[bucket.ID]int{h0: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	r, err := s.HistoryRecord(ctx, h0)
	require.NoError(t, err)
	assert.Equal(t, workers, r.Count)
}

func ids(records []demand.HistoryRecord) []bucket.ID {
	out := make([]bucket.ID, len(records))
	for i, r := range records {
		out[i] = r.Bucket
	}
	return out
}
