package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/httpx"
	"github.com/nicktill/demandcast/pkg/storage"
	"github.com/nicktill/demandcast/pkg/validation"
)

// maxRequestBytes bounds JSON bodies of the anomaly endpoints.
const maxRequestBytes = 64 << 10

// Handler serves forecasts and anomaly tagging over HTTP.
type Handler struct {
	predictor   *Predictor
	store       storage.Store
	defaultDays int
}

// NewHandler creates a handler. defaultDays is used by GET /v1/demand.
func NewHandler(p *Predictor, store storage.Store, defaultDays int) *Handler {
	if defaultDays <= 0 {
		defaultDays = config.DefaultForecastDays
	}
	return &Handler{predictor: p, store: store, defaultDays: defaultDays}
}

// RegisterRoutes mounts the handler on a /v1 subrouter.
func (h *Handler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/demand", h.HandleDemand).Methods("GET")
	api.HandleFunc("/demand/{days}", h.HandleDemand).Methods("GET")
	api.HandleFunc("/forecast/last", h.HandleLastRun).Methods("GET")
	api.HandleFunc("/outliers", h.HandleListOutliers).Methods("GET")
	api.HandleFunc("/outliers", h.HandleMarkOutlier).Methods("POST")
	api.HandleFunc("/predicted-outliers", h.HandleListMultipliers).Methods("GET")
	api.HandleFunc("/predicted-outliers", h.HandleMarkPredictedOutlier).Methods("POST")
	api.HandleFunc("/history", h.HandleHistory).Methods("GET")
	api.HandleFunc("/predictions", h.HandlePredictions).Methods("GET")
}

// HandleDemand forecasts the days following the latest history hour and
// returns a map of hour id to predicted logins.
func (h *Handler) HandleDemand(w http.ResponseWriter, r *http.Request) {
	days := h.defaultDays
	if raw, ok := mux.Vars(r)["days"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondDomainError(w, fmt.Errorf("%w: days must be a whole number, got %q", demand.ErrInvalidParameter, raw))
			return
		}
		days = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.ForecastTimeout)
	defer cancel()

	out, run, err := h.predictor.PredictNext(ctx, days)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	w.Header().Set("X-Forecast-Run", run.ID)
	httpx.RespondJSON(w, http.StatusOK, out)
}

// HandleLastRun describes the most recent run.
func (h *Handler) HandleLastRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.predictor.LastRun()
	if !ok {
		httpx.RespondErrorString(w, http.StatusNotFound, "no forecast has run yet")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, run)
}

// OutlierRequest tags a historic hour.
type OutlierRequest struct {
	Bucket string `json:"bucket" validate:"required,bucket"`
	Reason string `json:"reason" validate:"max=255"`
}

// PredictedOutlierRequest scales one future hour.
type PredictedOutlierRequest struct {
	Bucket     string  `json:"bucket" validate:"required,bucket"`
	Multiplier float64 `json:"multiplier" validate:"gt=0"`
	Reason     string  `json:"reason" validate:"max=255"`
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", demand.ErrInvalidParameter, err)
	}
	return validation.Struct(dst)
}

// HandleMarkOutlier handles POST /v1/outliers.
func (h *Handler) HandleMarkOutlier(w http.ResponseWriter, r *http.Request) {
	var req OutlierRequest
	if err := decode(w, r, &req); err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	id := bucket.MustParse(req.Bucket)

	if err := h.predictor.MarkOutlier(r.Context(), id, req.Reason); err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = demand.DefaultOutlierReason
	}
	httpx.RespondJSON(w, http.StatusCreated, demand.ManualOutlier{Bucket: id, Reason: reason})
}

// HandleMarkPredictedOutlier handles POST /v1/predicted-outliers.
func (h *Handler) HandleMarkPredictedOutlier(w http.ResponseWriter, r *http.Request) {
	var req PredictedOutlierRequest
	if err := decode(w, r, &req); err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	id := bucket.MustParse(req.Bucket)

	if err := h.predictor.MarkPredictedOutlier(r.Context(), id, req.Multiplier, req.Reason); err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = demand.DefaultOutlierReason
	}
	httpx.RespondJSON(w, http.StatusCreated, demand.PredictedMultiplier{Bucket: id, Multiplier: req.Multiplier, Reason: reason})
}

// HandleListOutliers handles GET /v1/outliers.
func (h *Handler) HandleListOutliers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.HistoryTimeout)
	defer cancel()

	outliers, err := h.store.Outliers(ctx)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	if outliers == nil {
		outliers = []demand.ManualOutlier{}
	}
	httpx.RespondJSON(w, http.StatusOK, outliers)
}

// HandleListMultipliers handles GET /v1/predicted-outliers.
func (h *Handler) HandleListMultipliers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.HistoryTimeout)
	defer cancel()

	ms, err := h.store.Multipliers(ctx)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	if ms == nil {
		ms = []demand.PredictedMultiplier{}
	}
	httpx.RespondJSON(w, http.StatusOK, ms)
}

// HandleHistory returns the login history, newest first. ?limit=N keeps
// the N newest hours.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.RespondDomainError(w, fmt.Errorf("%w: limit must be a non-negative integer", demand.ErrInvalidParameter))
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.HistoryTimeout)
	defer cancel()

	history, err := h.store.History(ctx, storage.Descending)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	if history == nil {
		history = []demand.HistoryRecord{}
	}
	httpx.RespondJSON(w, http.StatusOK, history)
}

// HandlePredictions returns stored predictions, oldest first. Responses
// carry an ETag and honour If-None-Match.
func (h *Handler) HandlePredictions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.PredictionsTimeout)
	defer cancel()

	preds, err := h.store.Predictions(ctx)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	etag := PredictionsETag(preds)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if preds == nil {
		preds = []demand.Prediction{}
	}
	httpx.RespondJSON(w, http.StatusOK, preds)
}
