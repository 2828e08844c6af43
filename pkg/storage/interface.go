package storage

import (
	"context"
	"errors"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
)

var (
	// ErrNotFound is returned when a single record lookup finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned while a backend is refusing calls.
	ErrUnavailable = errors.New("storage unavailable")
)

// Order selects the bucket ordering of History.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Store defines the interface for demand storage backends.
// Implementations: memory (testing), badger (default), mysql (shared database)
type Store interface {
	// History returns every history record ordered by bucket
	History(ctx context.Context, order Order) ([]demand.HistoryRecord, error)

	// HistoryRecord returns one record or ErrNotFound
	HistoryRecord(ctx context.Context, id bucket.ID) (demand.HistoryRecord, error)

	// AddCounts inserts new buckets and increments existing ones
	AddCounts(ctx context.Context, counts map[bucket.ID]int) (AddResult, error)

	// Reset removes everything: history, outliers, multipliers and predictions
	Reset(ctx context.Context) error

	// Outliers returns the manually tagged history buckets
	Outliers(ctx context.Context) ([]demand.ManualOutlier, error)

	// PutOutlier inserts or replaces an outlier tag
	PutOutlier(ctx context.Context, o demand.ManualOutlier) error

	// Multipliers returns the registered forecast multipliers
	Multipliers(ctx context.Context) ([]demand.PredictedMultiplier, error)

	// PutMultiplier inserts or replaces a multiplier
	PutMultiplier(ctx context.Context, m demand.PredictedMultiplier) error

	// Predictions returns stored forecasts in ascending bucket order
	Predictions(ctx context.Context) ([]demand.Prediction, error)

	// PutPredictions inserts or replaces forecasts
	PutPredictions(ctx context.Context, ps []demand.Prediction) error

	// DeletePredictions removes forecasts by bucket and reports how many existed
	DeletePredictions(ctx context.Context, ids []bucket.ID) (int, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// AddResult reports how many buckets AddCounts created and how many it
// incremented.
type AddResult struct {
	Inserted int `json:"insert"`
	Updated  int `json:"update"`
}

// Stats provides storage health and usage info
type Stats struct {
	HistoryRows uint64 `json:"history_rows"`
	Outliers    uint64 `json:"outliers"`
	Multipliers uint64 `json:"multipliers"`
	Predictions uint64 `json:"predictions"`

	// Storage size in bytes (0 when the backend cannot tell)
	SizeBytes uint64 `json:"size_bytes"`

	// Oldest and newest history buckets (zero when empty)
	OldestBucket bucket.ID `json:"oldest_bucket,omitzero"`
	NewestBucket bucket.ID `json:"newest_bucket,omitzero"`
}
