package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
)

// Storage keeps every record in maps. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	history     map[bucket.ID]demand.HistoryRecord
	outliers    map[bucket.ID]demand.ManualOutlier
	multipliers map[bucket.ID]demand.PredictedMultiplier
	predictions map[bucket.ID]float64
	mu          sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	s := &Storage{}
	s.reset()
	return s
}

func (s *Storage) reset() {
	s.history = make(map[bucket.ID]demand.HistoryRecord, 24*90)
	s.outliers = make(map[bucket.ID]demand.ManualOutlier)
	s.multipliers = make(map[bucket.ID]demand.PredictedMultiplier)
	s.predictions = make(map[bucket.ID]float64, 24*15)
}

// History returns all history records in the requested order
func (s *Storage) History(ctx context.Context, order storage.Order) ([]demand.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]demand.HistoryRecord, 0, len(s.history))
	for _, r := range s.history {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if order == storage.Descending {
			return out[i].Bucket.After(out[j].Bucket)
		}
		return out[i].Bucket.Before(out[j].Bucket)
	})
	return out, nil
}

// HistoryRecord looks up a single hour
func (s *Storage) HistoryRecord(ctx context.Context, id bucket.ID) (demand.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.history[id]
	if !ok {
		return demand.HistoryRecord{}, storage.ErrNotFound
	}
	return r, nil
}

// AddCounts inserts or increments hourly counts
func (s *Storage) AddCounts(ctx context.Context, counts map[bucket.ID]int) (storage.AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res storage.AddResult
	for id, n := range counts {
		if r, ok := s.history[id]; ok {
			r.Count += n
			s.history[id] = r
			res.Updated++
			continue
		}
		s.history[id] = demand.NewHistoryRecord(id, n)
		res.Inserted++
	}
	return res, nil
}

// Reset drops every record
func (s *Storage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// Outliers returns outlier tags in bucket order
func (s *Storage) Outliers(ctx context.Context) ([]demand.ManualOutlier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]demand.ManualOutlier, 0, len(s.outliers))
	for _, o := range s.outliers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// PutOutlier inserts or replaces an outlier tag
func (s *Storage) PutOutlier(ctx context.Context, o demand.ManualOutlier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outliers[o.Bucket] = o
	return nil
}

// Multipliers returns multipliers in bucket order
func (s *Storage) Multipliers(ctx context.Context) ([]demand.PredictedMultiplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]demand.PredictedMultiplier, 0, len(s.multipliers))
	for _, m := range s.multipliers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// PutMultiplier inserts or replaces a multiplier
func (s *Storage) PutMultiplier(ctx context.Context, m demand.PredictedMultiplier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.multipliers[m.Bucket] = m
	return nil
}

// Predictions returns forecasts in ascending bucket order
func (s *Storage) Predictions(ctx context.Context) ([]demand.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]demand.Prediction, 0, len(s.predictions))
	for id, v := range s.predictions {
		out = append(out, demand.Prediction{Bucket: id, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// PutPredictions inserts or replaces forecasts
func (s *Storage) PutPredictions(ctx context.Context, ps []demand.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		s.predictions[p.Bucket] = p.Count
	}
	return nil
}

// DeletePredictions removes forecasts for the given hours
func (s *Storage) DeletePredictions(ctx context.Context, ids []bucket.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.predictions[id]; ok {
			delete(s.predictions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		HistoryRows: uint64(len(s.history)),
		Outliers:    uint64(len(s.outliers)),
		Multipliers: uint64(len(s.multipliers)),
		Predictions: uint64(len(s.predictions)),
	}

	// Find min/max buckets in single pass
	for id := range s.history {
		if stats.OldestBucket.IsZero() || id.Before(stats.OldestBucket) {
			stats.OldestBucket = id
		}
		if stats.NewestBucket.IsZero() || id.After(stats.NewestBucket) {
			stats.NewestBucket = id
		}
	}

	// Rough size estimate (each record ~64 bytes)
	total := stats.HistoryRows + stats.Outliers + stats.Multipliers + stats.Predictions
	stats.SizeBytes = total * 64

	return stats, nil
}

var _ storage.Store = (*Storage)(nil)
