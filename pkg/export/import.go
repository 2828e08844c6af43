package export

import (
	"context"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
)

const (
	// MaxImportBatchSize is the maximum number of hours written at once
	MaxImportBatchSize = 5000
)

// Importer restores history from a JSON export.
type Importer struct {
	storage storage.Store
}

// NewImporter creates a new importer
func NewImporter(store storage.Store) *Importer {
	return &Importer{storage: store}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	storage.AddResult
	Imported   int       `json:"imported"`
	Batches    int       `json:"batches"`
	First      bucket.ID `json:"first,omitzero"`
	Last       bucket.ID `json:"last,omitzero"`
	ImportedAt time.Time `json:"imported_at"`
	Errors     []string  `json:"errors,omitempty"`
}

// ImportFromJSON adds the history of a Document to the store. Invalid
// records are skipped and listed in the result.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JSON: %v", demand.ErrInvalidParameter, err)
	}
	if doc.Metadata.Kind != "" && doc.Metadata.Kind != KindHistory {
		return nil, fmt.Errorf("%w: only history exports can be imported, got %q", demand.ErrInvalidParameter, doc.Metadata.Kind)
	}

	result := &ImportResult{ImportedAt: time.Now().UTC()}

	valid := make([]demand.HistoryRecord, 0, len(doc.History))
	for i, rec := range doc.History {
		if err := validateImportedRecord(rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("history[%d]: %v", i, err))
			continue
		}
		valid = append(valid, rec)
	}

	for i := 0; i < len(valid); i += MaxImportBatchSize {
		end := i + MaxImportBatchSize
		if end > len(valid) {
			end = len(valid)
		}

		counts := make(map[bucket.ID]int, end-i)
		for _, rec := range valid[i:end] {
			counts[rec.Bucket] += rec.Count
		}
		added, err := im.storage.AddCounts(ctx, counts)
		if err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", result.Batches, err)
		}
		result.Inserted += added.Inserted
		result.Updated += added.Updated
		result.Batches++
	}

	for _, rec := range valid {
		if result.First.IsZero() || rec.Bucket.Before(result.First) {
			result.First = rec.Bucket
		}
		if rec.Bucket.After(result.Last) {
			result.Last = rec.Bucket
		}
	}
	result.Imported = len(valid)

	return result, nil
}

func validateImportedRecord(rec demand.HistoryRecord) error {
	if rec.Bucket.IsZero() {
		return fmt.Errorf("bucket is required")
	}
	if rec.Count < 0 {
		return fmt.Errorf("count cannot be negative: %d", rec.Count)
	}
	if rec.Weekday != "" && rec.Weekday != rec.Bucket.Weekday2Letter() {
		return fmt.Errorf("weekday %s does not match %s", rec.Weekday, rec.Bucket)
	}
	return nil
}
