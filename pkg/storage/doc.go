/*
Package storage provides the pluggable storage abstraction for demandcast.

# Store Interface

demandcast keeps four kinds of records, all keyed by an hour bucket
(bucket.ID, canonical form "2012-03-01T00"):

  - history: observed login counts per hour
  - outliers: history hours excluded from the regression
  - multipliers: forecast hours scaled by a known factor
  - predictions: the latest forecast per hour

Backends:
  - memory: in-memory storage for tests and throwaway runs
  - badger: BadgerDB for persistent single-node storage (default)
  - mysql: a shared MySQL database using the classic four-table layout

All backends implement Store. History and predictions come back ordered by
bucket; since the canonical bucket string sorts chronologically, backends can
order by the key directly.

# Write Semantics

  - AddCounts inserts missing hours and increments existing ones. It never
    lowers a count.
  - PutOutlier, PutMultiplier and PutPredictions are insert-or-replace.
  - DeletePredictions removes forecasts for hours that now have history.
  - Reset wipes every record.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	res, err := store.AddCounts(ctx, map[bucket.ID]int{
	    bucket.MustParse("2012-03-01T00"): 12,
	})
	fmt.Printf("inserted=%d updated=%d\n", res.Inserted, res.Updated)

	history, err := store.History(ctx, storage.Descending)

# Best Practices

1. Always call Close() when done to flush pending writes
2. Use context.WithTimeout() to prevent hung queries
3. Batch writes when possible (AddCounts and PutPredictions take many rows)

# See Also

  - memory.New() for in-memory storage
  - badger.New() for persistent BadgerDB storage
  - mysql.New() for MySQL storage
  - storagetest.Run() for the conformance suite every backend must pass
*/
package storage
