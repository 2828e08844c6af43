package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/httpx"
	"github.com/nicktill/demandcast/pkg/metrics"
	"github.com/nicktill/demandcast/pkg/storage"
)

// StorageChecker reports store usage against its limit.
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// Handler accepts raw login timestamps over HTTP.
type Handler struct {
	store          storage.Store
	maxTimestamps  int
	limiter        *rate.Limiter
	hub            *Hub
	storageChecker StorageChecker
	log            zerolog.Logger
}

// NewHandler creates an ingest handler. maxTimestamps bounds one request;
// 0 uses the default.
func NewHandler(store storage.Store, maxTimestamps int, log zerolog.Logger) *Handler {
	if maxTimestamps <= 0 {
		maxTimestamps = config.DefaultMaxTimestampsPerRequest
	}
	return &Handler{
		store:         store,
		maxTimestamps: maxTimestamps,
		log:           log.With().Str("component", "ingest").Logger(),
	}
}

// SetLimiter sets the request rate limiter. nil disables limiting.
func (h *Handler) SetLimiter(l *rate.Limiter) {
	h.limiter = l
}

// SetHub sets the hub notified after each successful ingest.
func (h *Handler) SetHub(hub *Hub) {
	h.hub = hub
}

// SetStorageChecker sets the storage checker used to refuse writes once
// the store is full.
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.storageChecker = checker
}

// RegisterRoutes mounts the handler on a /v1 subrouter.
func (h *Handler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/logins", h.HandleIngest).Methods("POST")
}

// loginRequest is the object form of a POST /v1/logins body. A bare JSON
// array of timestamps is accepted too.
type loginRequest struct {
	Timestamp  *string  `json:"timestamp"`
	Timestamps []string `json:"timestamps"`
}

// SingleResult answers a request carrying one timestamp.
type SingleResult struct {
	storage.AddResult
	Timestamp string `json:"timestamp"`
}

var bodyExamples = map[string]interface{}{
	"list":       []string{Example},
	"timestamp":  map[string]string{"timestamp": Example},
	"timestamps": map[string][]string{"timestamps": {Example}},
}

// HandleIngest handles POST /v1/logins.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil {
		res := h.limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			metrics.IngestRejected.WithLabelValues("rate").Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			httpx.RespondError(w, http.StatusTooManyRequests, ErrRateLimited)
			return
		}
	}

	if h.storageChecker != nil {
		if err := h.checkStorage(); err != nil {
			metrics.IngestRejected.WithLabelValues("storage").Inc()
			httpx.RespondError(w, http.StatusInsufficientStorage, err)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxIngestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.IngestRejected.WithLabelValues("limit").Inc()
			httpx.RespondError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	timestamps, single, err := parseBody(body)
	if err != nil {
		respondBadBody(w, err, bodyExamples)
		return
	}

	if err := ValidateBatch(len(timestamps), h.maxTimestamps); err != nil {
		metrics.IngestRejected.WithLabelValues("limit").Inc()
		httpx.RespondError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	result, err := Ingest(ctx, h.store, timestamps)
	if err != nil {
		if errors.Is(err, demand.ErrInvalidParameter) {
			if single {
				respondBadBody(w, err, Example)
			} else {
				respondBadBody(w, err, []string{Example})
			}
			return
		}
		h.log.Error().Err(err).Int("timestamps", len(timestamps)).Msg("Ingest failed")
		httpx.RespondDomainError(w, err)
		return
	}

	h.log.Debug().
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Msg("Logins ingested")
	h.hub.Publish(EventHistoryUpdated, result)

	if single {
		httpx.RespondJSON(w, http.StatusCreated, SingleResult{AddResult: result.AddResult, Timestamp: timestamps[0]})
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, result)
}

func (h *Handler) checkStorage() error {
	limit := h.storageChecker.GetLimit()
	if limit <= 0 {
		return nil
	}
	usage, err := h.storageChecker.GetUsage()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to check storage usage")
		return nil
	}
	if usage >= limit {
		return fmt.Errorf("%w: %d of %d bytes used", ErrStorageFull, usage, limit)
	}
	return nil
}

// parseBody accepts a JSON array, {"timestamp": ...} or {"timestamps": [...]}.
// single reports the {"timestamp": ...} form.
func parseBody(body []byte) (timestamps []string, single bool, err error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, fmt.Errorf("%w: empty body", demand.ErrInvalidParameter)
	}

	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &timestamps); err != nil {
			return nil, false, fmt.Errorf("%w: invalid JSON: %v", demand.ErrInvalidParameter, err)
		}
		return timestamps, false, nil
	case '{':
		var req loginRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, false, fmt.Errorf("%w: invalid JSON: %v", demand.ErrInvalidParameter, err)
		}
		switch {
		case req.Timestamps != nil:
			return req.Timestamps, false, nil
		case req.Timestamp != nil:
			return []string{*req.Timestamp}, true, nil
		}
		return nil, false, fmt.Errorf("%w: expected a timestamp or timestamps field", demand.ErrInvalidParameter)
	default:
		return nil, false, fmt.Errorf("%w: body must be a JSON list or object", demand.ErrInvalidParameter)
	}
}

func respondBadBody(w http.ResponseWriter, err error, example interface{}) {
	httpx.RespondJSON(w, http.StatusBadRequest, httpx.ErrorResponse{
		Error:   http.StatusText(http.StatusBadRequest),
		Message: err.Error(),
		Example: example,
	})
}
