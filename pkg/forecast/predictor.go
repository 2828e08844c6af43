// Package forecast runs demand predictions against a store.
//
// A Predictor loads the full login history, fits the weekly model and
// writes one prediction per future hour back to the store, a day at a time.
// Runs are serialised per Predictor and are idempotent: the fitted model is
// cached under a fingerprint of its inputs, so repeating a run with
// unchanged history and outliers skips the fit and writes identical values.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/calendar"
	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/metrics"
	"github.com/nicktill/demandcast/pkg/storage"
)

// MaxDays is the exclusive upper bound on days per run.
const MaxDays = config.MaxForecastDays

// Run describes one completed prediction run.
type Run struct {
	ID          string             `json:"id"`
	Start       bucket.ID          `json:"start"`
	Days        int                `json:"days"`
	Fingerprint string             `json:"fingerprint"`
	Cached      bool               `json:"cached"`
	Purged      int                `json:"purged"`
	Calendar    calendar.Applied   `json:"calendar"`
	Diagnostics demand.Diagnostics `json:"diagnostics"`
	Predictions int                `json:"predictions"`
	Duration    time.Duration      `json:"duration"`
	Finished    time.Time          `json:"finished"`
}

// Predictor runs forecasts and records manual anomalies.
type Predictor struct {
	store    storage.Store
	calendar *calendar.Calendar
	log      zerolog.Logger
	onRun    func(Run)

	mu          sync.Mutex
	fingerprint uint64
	model       *demand.Model
	last        *Run
}

// New creates a Predictor on store.
func New(store storage.Store, log zerolog.Logger) *Predictor {
	return &Predictor{
		store: store,
		log:   log.With().Str("component", "forecast").Logger(),
	}
}

// SetCalendar sets the anomalies applied before every run. nil disables them.
func (p *Predictor) SetCalendar(c *calendar.Calendar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calendar = c
}

// SetOnRun registers a callback invoked after every successful run.
func (p *Predictor) SetOnRun(fn func(Run)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRun = fn
}

// LastRun returns the most recent successful run, if any.
func (p *Predictor) LastRun() (Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Run{}, false
	}
	return *p.last, true
}

// Predict forecasts numDays whole days starting at the day of start and
// persists them. numDays must be in (0, MaxDays) and the history must
// cover at least one week; nothing is written otherwise.
func (p *Predictor) Predict(ctx context.Context, start bucket.ID, numDays int) (map[bucket.ID]float64, error) {
	if numDays <= 0 || numDays >= MaxDays {
		err := fmt.Errorf("%w: days must be between 1 and %d, got %d", demand.ErrInvalidParameter, MaxDays-1, numDays)
		metrics.RecordForecast(0, false, demand.Diagnostics{}, 0, err)
		return nil, err
	}
	if start.IsZero() {
		err := fmt.Errorf("%w: start day is required", demand.ErrInvalidParameter)
		metrics.RecordForecast(0, false, demand.Diagnostics{}, 0, err)
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	history, err := p.loadHistory(ctx)
	if err != nil {
		metrics.RecordForecast(0, false, demand.Diagnostics{}, 0, err)
		return nil, err
	}
	return p.predict(ctx, history, start, numDays)
}

// PredictNext forecasts numDays starting the day after the latest history
// hour.
func (p *Predictor) PredictNext(ctx context.Context, numDays int) (map[bucket.ID]float64, Run, error) {
	if numDays <= 0 || numDays >= MaxDays {
		err := fmt.Errorf("%w: days must be between 1 and %d, got %d", demand.ErrInvalidParameter, MaxDays-1, numDays)
		metrics.RecordForecast(0, false, demand.Diagnostics{}, 0, err)
		return nil, Run{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	history, err := p.loadHistory(ctx)
	if err != nil {
		metrics.RecordForecast(0, false, demand.Diagnostics{}, 0, err)
		return nil, Run{}, err
	}

	start := history[len(history)-1].Bucket.Day().AddDays(1)
	out, err := p.predict(ctx, history, start, numDays)
	if err != nil {
		return nil, Run{}, err
	}
	return out, *p.last, nil
}

// loadHistory returns the ascending history or the error explaining why it
// cannot be forecast from.
func (p *Predictor) loadHistory(ctx context.Context) ([]demand.HistoryRecord, error) {
	history, err := p.store.History(ctx, storage.Ascending)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(history) == 0 {
		return nil, demand.ErrEmptyHistory
	}
	if len(history) < bucket.HoursPerWeek {
		return nil, fmt.Errorf("%w: %d hours recorded, need %d", demand.ErrInsufficientHistory, len(history), bucket.HoursPerWeek)
	}
	return history, nil
}

// predict runs with p.mu held.
func (p *Predictor) predict(ctx context.Context, history []demand.HistoryRecord, start bucket.ID, numDays int) (map[bucket.ID]float64, error) {
	began := time.Now()
	run := Run{ID: uuid.NewString(), Start: start.Day(), Days: numDays}
	log := p.log.With().Str("run_id", run.ID).Logger()

	fail := func(err error) (map[bucket.ID]float64, error) {
		metrics.RecordForecast(time.Since(began), false, run.Diagnostics, 0, err)
		log.Error().Err(err).Msg("Forecast failed")
		return nil, err
	}

	purged, err := p.purgeActuals(ctx, history)
	if err != nil {
		return fail(err)
	}
	run.Purged = purged

	if p.calendar != nil {
		applied, err := p.calendar.Apply(ctx, p.store)
		if err != nil {
			return fail(fmt.Errorf("failed to apply calendar: %w", err))
		}
		run.Calendar = applied
	}

	outliers, err := p.store.Outliers(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to load outliers: %w", err))
	}
	multipliers, err := p.store.Multipliers(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to load multipliers: %w", err))
	}

	fp := ModelFingerprint(history, outliers)
	run.Fingerprint = strconv.FormatUint(fp, 16)
	model := p.model
	if model != nil && p.fingerprint == fp {
		run.Cached = true
	} else {
		model, err = demand.BuildModel(history, demand.OutlierSet(outliers))
		if err != nil {
			return fail(err)
		}
		for _, problem := range model.Problems {
			log.Debug().Err(problem).Msg("Degenerate class")
		}
		p.model, p.fingerprint = model, fp
	}
	run.Diagnostics = model.Diagnostics

	// All days go to the store in one write so a failed run leaves no rows.
	preds := make([]demand.Prediction, 0, numDays*24)
	for _, day := range model.Extrapolate(start, numDays, demand.Multipliers(multipliers)) {
		preds = append(preds, day...)
	}
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("forecast cancelled: %w", err))
	}
	if err := p.store.PutPredictions(ctx, preds); err != nil {
		return fail(fmt.Errorf("failed to store %d predictions: %w", len(preds), err))
	}

	out := make(map[bucket.ID]float64, len(preds))
	for _, pred := range preds {
		out[pred.Bucket] = pred.Count
	}
	run.Predictions = len(preds)

	run.Duration = time.Since(began)
	run.Finished = time.Now().UTC()
	p.last = &run
	metrics.RecordForecast(run.Duration, run.Cached, run.Diagnostics, run.Predictions, nil)

	log.Info().
		Str("start", run.Start.String()).
		Int("days", numDays).
		Bool("cached", run.Cached).
		Int("purged", run.Purged).
		Int("rejected", run.Diagnostics.Rejected).
		Int("degenerate", run.Diagnostics.Degenerate).
		Dur("duration", run.Duration).
		Msg("Forecast complete")

	if p.onRun != nil {
		p.onRun(run)
	}
	return out, nil
}

// purgeActuals removes stored predictions for hours that now have history.
func (p *Predictor) purgeActuals(ctx context.Context, history []demand.HistoryRecord) (int, error) {
	preds, err := p.store.Predictions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load predictions: %w", err)
	}
	if len(preds) == 0 {
		return 0, nil
	}

	seen := make(demand.BucketSet, len(history))
	for _, r := range history {
		seen[r.Bucket] = struct{}{}
	}
	var stale []bucket.ID
	for _, pred := range preds {
		if seen.Contains(pred.Bucket) {
			stale = append(stale, pred.Bucket)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	n, err := p.store.DeletePredictions(ctx, stale)
	if err != nil {
		return 0, fmt.Errorf("failed to purge predictions: %w", err)
	}
	return n, nil
}

// MarkOutlier tags a historic hour so it is excluded from future fits.
// The hour must exist in the history.
func (p *Predictor) MarkOutlier(ctx context.Context, id bucket.ID, reason string) error {
	if id.IsZero() {
		return fmt.Errorf("%w: bucket is required", demand.ErrInvalidParameter)
	}
	if reason == "" {
		reason = demand.DefaultOutlierReason
	}

	if _, err := p.store.HistoryRecord(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s has no login history", demand.ErrInvalidParameter, id)
		}
		return fmt.Errorf("failed to look up %s: %w", id, err)
	}

	if err := p.store.PutOutlier(ctx, demand.ManualOutlier{Bucket: id, Reason: reason}); err != nil {
		return fmt.Errorf("failed to store outlier: %w", err)
	}
	p.log.Info().Str("bucket", id.String()).Str("reason", reason).Msg("Outlier marked")
	return nil
}

// MarkPredictedOutlier registers a multiplier for one future hour.
func (p *Predictor) MarkPredictedOutlier(ctx context.Context, id bucket.ID, multiplier float64, reason string) error {
	if id.IsZero() {
		return fmt.Errorf("%w: bucket is required", demand.ErrInvalidParameter)
	}
	if multiplier <= 0 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return fmt.Errorf("%w: multiplier must be a positive number, got %v", demand.ErrInvalidParameter, multiplier)
	}
	if reason == "" {
		reason = demand.DefaultOutlierReason
	}

	m := demand.PredictedMultiplier{Bucket: id, Multiplier: multiplier, Reason: reason}
	if err := p.store.PutMultiplier(ctx, m); err != nil {
		return fmt.Errorf("failed to store multiplier: %w", err)
	}
	p.log.Info().Str("bucket", id.String()).Float64("multiplier", multiplier).Msg("Predicted outlier marked")
	return nil
}
