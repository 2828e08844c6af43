package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
)

// Key prefixes. The bucket id follows the prefix in canonical form, so key
// order within a prefix is chronological.
var (
	prefixHistory    = []byte("h/")
	prefixOutlier    = []byte("o/")
	prefixMultiplier = []byte("m/")
	prefixPrediction = []byte("p/")
)

// maxConflictRetries bounds how often AddCounts retries a transaction that
// lost a write conflict to a concurrent increment.
const maxConflictRetries = 10

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64

	// Logger receives badger's internal logs (nil = silent)
	Logger badger.Logger
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(cfg.Logger)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// SAFETY: Conservative memory limits. A year of hourly history is under
	// 9k small records, so the defaults (320 MB of memtables) are far too much.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2). // badger refuses to start with fewer than 2
		WithValueLogFileSize(64 << 20) // CRITICAL: 64 MB value log files instead of default 2GB!

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// update runs fn in a read-write transaction and returns once the outcome
// is known. If ctx is done by the time fn returns, the transaction is
// discarded instead of committed, so a cancelled write never lands.
func (s *Storage) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s operation cancelled: %w", op, err)
		}
		return nil
	})
}

// view runs fn in a read-only transaction, giving up early when ctx is done.
func (s *Storage) view(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.View(fn)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// scan decodes every value under prefix into a new T and passes it to fn.
func scan[T any](ctx context.Context, txn *badger.Txn, prefix []byte, reverse bool, fn func(T)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	opts.PrefetchSize = 100

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if reverse {
		seek = append(append([]byte{}, prefix...), 0xFF)
	}

	var iterCount int
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		iterCount++
		// Check context periodically (every 1000 iterations)
		if iterCount%1000 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
		}
		fn(v)
	}
	return nil
}

func key(prefix []byte, id bucket.ID) []byte {
	k := make([]byte, 0, len(prefix)+len(bucket.Layout))
	k = append(k, prefix...)
	return append(k, id.String()...)
}

func put(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", k, err)
	}
	if err := txn.Set(k, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", k, err)
	}
	return nil
}

// History returns all history records in the requested order
func (s *Storage) History(ctx context.Context, order storage.Order) ([]demand.HistoryRecord, error) {
	var out []demand.HistoryRecord
	err := s.view(ctx, "history", func(txn *badger.Txn) error {
		out = out[:0]
		return scan(ctx, txn, prefixHistory, order == storage.Descending, func(r demand.HistoryRecord) {
			out = append(out, r)
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HistoryRecord looks up a single hour
func (s *Storage) HistoryRecord(ctx context.Context, id bucket.ID) (demand.HistoryRecord, error) {
	var r demand.HistoryRecord
	err := s.view(ctx, "history record", func(txn *badger.Txn) error {
		item, err := txn.Get(key(prefixHistory, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	return r, err
}

// AddCounts inserts or increments hourly counts in one transaction.
// Conflicting concurrent increments are retried.
func (s *Storage) AddCounts(ctx context.Context, counts map[bucket.ID]int) (storage.AddResult, error) {
	var res storage.AddResult
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		err = s.update(ctx, "add counts", func(txn *badger.Txn) error {
			res = storage.AddResult{}
			for id, n := range counts {
				k := key(prefixHistory, id)
				rec := demand.NewHistoryRecord(id, n)

				item, err := txn.Get(k)
				switch {
				case errors.Is(err, badger.ErrKeyNotFound):
					res.Inserted++
				case err != nil:
					return err
				default:
					var existing demand.HistoryRecord
					if err := item.Value(func(val []byte) error {
						return json.Unmarshal(val, &existing)
					}); err != nil {
						return err
					}
					rec.Count += existing.Count
					res.Updated++
				}

				if err := put(txn, k, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return res, err
}

// Reset drops every record
func (s *Storage) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropPrefix(prefixHistory, prefixOutlier, prefixMultiplier, prefixPrediction)
}

// Outliers returns outlier tags in bucket order
func (s *Storage) Outliers(ctx context.Context) ([]demand.ManualOutlier, error) {
	var out []demand.ManualOutlier
	err := s.view(ctx, "outliers", func(txn *badger.Txn) error {
		return scan(ctx, txn, prefixOutlier, false, func(o demand.ManualOutlier) {
			out = append(out, o)
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutOutlier inserts or replaces an outlier tag
func (s *Storage) PutOutlier(ctx context.Context, o demand.ManualOutlier) error {
	return s.update(ctx, "put outlier", func(txn *badger.Txn) error {
		return put(txn, key(prefixOutlier, o.Bucket), o)
	})
}

// Multipliers returns multipliers in bucket order
func (s *Storage) Multipliers(ctx context.Context) ([]demand.PredictedMultiplier, error) {
	var out []demand.PredictedMultiplier
	err := s.view(ctx, "multipliers", func(txn *badger.Txn) error {
		return scan(ctx, txn, prefixMultiplier, false, func(m demand.PredictedMultiplier) {
			out = append(out, m)
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutMultiplier inserts or replaces a multiplier
func (s *Storage) PutMultiplier(ctx context.Context, m demand.PredictedMultiplier) error {
	return s.update(ctx, "put multiplier", func(txn *badger.Txn) error {
		return put(txn, key(prefixMultiplier, m.Bucket), m)
	})
}

// Predictions returns forecasts in ascending bucket order
func (s *Storage) Predictions(ctx context.Context) ([]demand.Prediction, error) {
	var out []demand.Prediction
	err := s.view(ctx, "predictions", func(txn *badger.Txn) error {
		return scan(ctx, txn, prefixPrediction, false, func(p demand.Prediction) {
			out = append(out, p)
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutPredictions inserts or replaces forecasts
func (s *Storage) PutPredictions(ctx context.Context, ps []demand.Prediction) error {
	return s.update(ctx, "put predictions", func(txn *badger.Txn) error {
		for _, p := range ps {
			if err := put(txn, key(prefixPrediction, p.Bucket), p); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePredictions removes forecasts for the given hours
func (s *Storage) DeletePredictions(ctx context.Context, ids []bucket.ID) (int, error) {
	var deleted int
	err := s.update(ctx, "delete predictions", func(txn *badger.Txn) error {
		deleted = 0
		for _, id := range ids {
			k := key(prefixPrediction, id)
			if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from deleted/updated values
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := s.view(ctx, "stats", func(txn *badger.Txn) error {
		counters := []struct {
			prefix  []byte
			n       *uint64
			history bool
		}{
			{prefixHistory, &stats.HistoryRows, true},
			{prefixOutlier, &stats.Outliers, false},
			{prefixMultiplier, &stats.Multipliers, false},
			{prefixPrediction, &stats.Predictions, false},
		}

		for _, c := range counters {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = c.prefix

			it := txn.NewIterator(opts)
			for it.Rewind(); it.ValidForPrefix(c.prefix); it.Next() {
				*c.n++

				if !c.history {
					continue
				}
				id, err := bucket.Parse(string(it.Item().Key()[len(c.prefix):]))
				if err != nil {
					it.Close()
					return fmt.Errorf("corrupt history key %q: %w", it.Item().Key(), err)
				}
				if stats.OldestBucket.IsZero() {
					stats.OldestBucket = id
				}
				stats.NewestBucket = id
			}
			it.Close()

			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

var _ storage.Store = (*Storage)(nil)
