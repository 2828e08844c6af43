package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/httpx"
	"github.com/nicktill/demandcast/pkg/storage"
	"github.com/nicktill/demandcast/pkg/validation"
)

// maxImportBytes bounds POST /v1/import bodies.
const maxImportBytes = 64 << 20

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	log      zerolog.Logger
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Store, log zerolog.Logger) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
		log:      log.With().Str("component", "export").Logger(),
	}
}

// RegisterRoutes mounts the handler on a /v1 subrouter.
func (h *Handler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/export", h.HandleExport).Methods("GET")
	api.HandleFunc("/import", h.HandleImport).Methods("POST")
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "csv" or "json" (default: csv)
//   - kind: "predictions" or "history" (default: predictions)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := ExportOptions{
		Kind:   query.Get("kind"),
		Format: query.Get("format"),
	}
	if opts.Kind == "" {
		opts.Kind = KindPredictions
	}
	if opts.Format == "" {
		opts.Format = config.DefaultExportFormat
	}
	if err := validation.Struct(opts); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.ExportTimeout)
	defer cancel()

	// Buffer so a failed export can still answer with an error status.
	var buf bytes.Buffer
	result, err := h.exporter.Export(ctx, &buf, opts)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			httpx.RespondError(w, http.StatusNotFound, err)
			return
		}
		httpx.RespondDomainError(w, err)
		return
	}

	contentType := "text/csv"
	if opts.Format == FormatJSON {
		contentType = "application/json"
	}
	timestamp := time.Now().Format("20060102-150405")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=demandcast-%s-%s.%s", opts.Kind, timestamp, opts.Format))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Warn().Err(err).Msg("Failed to write export")
		return
	}

	h.log.Info().
		Int("rows", result.Rows).
		Str("kind", result.Kind).
		Str("format", result.Format).
		Msg("Export written")
}

// HandleImport handles POST /v1/import
// Accepts a JSON history export and adds its counts to the store
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.ExportTimeout)
	defer cancel()

	result, err := h.importer.ImportFromJSON(ctx, http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	if len(result.Errors) > 0 {
		ev := h.log.Warn().Int("errors", len(result.Errors))
		if len(result.Errors) > 10 {
			ev = ev.Strs("first", result.Errors[:10])
		} else {
			ev = ev.Strs("first", result.Errors)
		}
		ev.Msg("Import skipped invalid records")
	}

	h.log.Info().
		Int("imported", result.Imported).
		Int("batches", result.Batches).
		Msg("History imported")

	httpx.RespondJSON(w, http.StatusOK, result)
}
