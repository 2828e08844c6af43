package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
)

// Export kinds
const (
	KindPredictions = "predictions"
	KindHistory     = "history"
)

// Export formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Version of the JSON document layout.
const Version = "1.0"

// ErrNoData is returned when there is nothing of the requested kind to export.
var ErrNoData = errors.New("nothing to export")

// Exporter writes stored demand data in CSV or JSON.
type Exporter struct {
	storage storage.Store
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Kind is "predictions" or "history"
	Kind string `validate:"oneof=predictions history"`

	// Format is "csv" or "json"
	Format string `validate:"oneof=csv json"`
}

// ExportResult contains stats about the export
type ExportResult struct {
	Rows       int       `json:"rows"`
	Kind       string    `json:"kind"`
	Format     string    `json:"format"`
	ExportedAt time.Time `json:"exported_at"`
}

// Metadata heads a JSON export.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	Kind       string    `json:"kind"`
	Rows       int       `json:"rows"`
	Format     string    `json:"format"`
	Version    string    `json:"version"`
}

// Document is the JSON export layout. Only the slice matching Metadata.Kind
// is set.
type Document struct {
	Metadata    Metadata               `json:"metadata"`
	Predictions []demand.Prediction    `json:"predictions,omitempty"`
	History     []demand.HistoryRecord `json:"history,omitempty"`
}

// row is one exported hour.
type row struct {
	id    bucket.ID
	count string
}

// Export writes the kind and format named in opts.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	switch opts.Format {
	case FormatJSON:
		return e.ExportToJSON(ctx, w, opts.Kind)
	case FormatCSV:
		return e.ExportToCSV(ctx, w, opts.Kind)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", demand.ErrInvalidParameter, opts.Format)
	}
}

// ExportToJSON writes a Document to w.
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, kind string) (*ExportResult, error) {
	doc := Document{Metadata: Metadata{
		ExportedAt: time.Now().UTC(),
		Kind:       kind,
		Format:     FormatJSON,
		Version:    Version,
	}}

	switch kind {
	case KindPredictions:
		ps, err := e.storage.Predictions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read predictions: %w", err)
		}
		doc.Predictions = ps
		doc.Metadata.Rows = len(ps)
	case KindHistory:
		history, err := e.storage.History(ctx, storage.Ascending)
		if err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		doc.History = history
		doc.Metadata.Rows = len(history)
	default:
		return nil, fmt.Errorf("%w: unknown export kind %q", demand.ErrInvalidParameter, kind)
	}
	if doc.Metadata.Rows == 0 {
		return nil, fmt.Errorf("%w: no %s stored", ErrNoData, kind)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		Rows:       doc.Metadata.Rows,
		Kind:       kind,
		Format:     FormatJSON,
		ExportedAt: doc.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV writes one "YYYY-MM-DDThh:00:00,count" line per hour.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, kind string) (*ExportResult, error) {
	rows, err := e.rows(ctx, kind)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no %s stored", ErrNoData, kind)
	}

	writer := csv.NewWriter(w)
	for _, r := range rows {
		if err := writer.Write([]string{r.id.String() + ":00:00", r.count}); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}

	return &ExportResult{
		Rows:       len(rows),
		Kind:       kind,
		Format:     FormatCSV,
		ExportedAt: time.Now().UTC(),
	}, nil
}

func (e *Exporter) rows(ctx context.Context, kind string) ([]row, error) {
	switch kind {
	case KindPredictions:
		ps, err := e.storage.Predictions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read predictions: %w", err)
		}
		rows := make([]row, len(ps))
		for i, p := range ps {
			rows[i] = row{id: p.Bucket, count: strconv.FormatFloat(p.Count, 'f', -1, 64)}
		}
		return rows, nil
	case KindHistory:
		history, err := e.storage.History(ctx, storage.Ascending)
		if err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		rows := make([]row, len(history))
		for i, h := range history {
			rows[i] = row{id: h.Bucket, count: strconv.Itoa(h.Count)}
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("%w: unknown export kind %q", demand.ErrInvalidParameter, kind)
	}
}
