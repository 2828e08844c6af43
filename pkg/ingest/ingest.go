// Package ingest turns raw login timestamps into hourly history counts.
//
// Timestamps look like 2012-03-01T00:05:55+00:00. They are grouped per hour
// and added to the store: new hours are inserted and existing hours are
// incremented. Entry points are the HTTP handler (POST /v1/logins), LoadFile
// for JSON dumps and Ingest for callers holding a slice already.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/metrics"
	"github.com/nicktill/demandcast/pkg/storage"
)

// ErrNoValidTimestamps is returned when a batch holds nothing parsable.
var ErrNoValidTimestamps = fmt.Errorf("%w: no valid timestamps", demand.ErrInvalidParameter)

// Example shows the accepted timestamp shape in error responses.
const Example = "2012-03-01T00:05:55+00:00"

// Bin counts timestamps per hour. Unparsable entries are skipped and
// reported, one error per entry.
func Bin(timestamps []string) (map[bucket.ID]int, []error) {
	counts := make(map[bucket.ID]int)
	var errs []error
	for i, ts := range timestamps {
		id, err := bucket.Parse(strings.TrimSpace(ts))
		if err != nil {
			errs = append(errs, fmt.Errorf("timestamps[%d]: %w", i, err))
			continue
		}
		counts[id]++
	}
	return counts, errs
}

// Result reports what one batch changed.
type Result struct {
	storage.AddResult
	// Buckets lists the hours touched, ascending.
	Buckets []bucket.ID `json:"timestamps"`
	Skipped int         `json:"skipped,omitempty"`
}

// Ingest bins timestamps and adds the counts to store.
func Ingest(ctx context.Context, store storage.Store, timestamps []string) (Result, error) {
	counts, errs := Bin(timestamps)
	metrics.RecordIngest(len(timestamps)-len(errs), len(errs))
	if len(counts) == 0 {
		if len(errs) > 0 {
			return Result{Skipped: len(errs)}, fmt.Errorf("%w: %v", ErrNoValidTimestamps, errs[0])
		}
		return Result{}, ErrNoValidTimestamps
	}

	added, err := store.AddCounts(ctx, counts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to add login counts: %w", err)
	}

	ids := make([]bucket.ID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Before(ids[j]) })

	return Result{AddResult: added, Buckets: ids, Skipped: len(errs)}, nil
}

// LoadFile ingests a JSON array of timestamps. A ".json" extension is
// appended when path does not already end in "json".
func LoadFile(ctx context.Context, store storage.Store, path string) (Result, error) {
	if !strings.HasSuffix(strings.ToLower(path), "json") {
		path += ".json"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("could not find %s: %w", path, err)
		}
		return Result{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var timestamps []string
	if err := json.Unmarshal(data, &timestamps); err != nil {
		return Result{}, fmt.Errorf("%w: %s is not a JSON list of timestamps: %v", demand.ErrInvalidParameter, path, err)
	}
	if len(timestamps) == 0 {
		return Result{}, fmt.Errorf("%w: nothing in %s", ErrNoValidTimestamps, path)
	}
	return Ingest(ctx, store, timestamps)
}
