// Package breaker wraps a storage.Store with a circuit breaker.
//
// Remote backends (mysql) can go away under load. Once FailureThreshold
// calls fail in a row the breaker opens and every call fails fast with
// storage.ErrUnavailable until Timeout has passed. A few trial calls are
// then let through and the breaker closes again if they succeed.
//
// storage.ErrNotFound and context cancellation are not counted as failures.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nicktill/demandcast/pkg/bucket"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/storage"
)

// Config configures the breaker.
type Config struct {
	Name             string
	MaxRequests      uint32        // trial calls allowed while half-open
	Interval         time.Duration // closed-state count reset period, 0 never resets
	Timeout          time.Duration // open-state duration before trial calls
	FailureThreshold uint32        // consecutive failures that open the breaker
}

// DefaultConfig returns the settings used for the mysql backend.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Store is a storage.Store whose calls pass through a circuit breaker.
type Store struct {
	inner storage.Store
	cb    *gobreaker.CircuitBreaker[interface{}]
}

// New wraps inner. State changes are logged to log.
func New(inner storage.Store, cfg Config, log zerolog.Logger) *Store {
	log = log.With().Str("component", "breaker").Str("breaker", cfg.Name).Logger()
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ev := log.Info()
			if to == gobreaker.StateOpen {
				ev = log.Warn()
			}
			ev.Str("from", from.String()).Str("to", to.String()).Msg("Storage circuit breaker changed state")
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, storage.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	}

	return &Store{inner: inner, cb: gobreaker.NewCircuitBreaker[interface{}](settings)}
}

// State returns the breaker state: "closed", "half-open" or "open".
func (s *Store) State() string {
	return s.cb.State().String()
}

func execute[T any](s *Store, fn func() (T, error)) (T, error) {
	var zero T
	v, err := s.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

func run(s *Store, fn func() error) error {
	_, err := execute(s, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (s *Store) History(ctx context.Context, order storage.Order) ([]demand.HistoryRecord, error) {
	return execute(s, func() ([]demand.HistoryRecord, error) { return s.inner.History(ctx, order) })
}

func (s *Store) HistoryRecord(ctx context.Context, id bucket.ID) (demand.HistoryRecord, error) {
	return execute(s, func() (demand.HistoryRecord, error) { return s.inner.HistoryRecord(ctx, id) })
}

func (s *Store) AddCounts(ctx context.Context, counts map[bucket.ID]int) (storage.AddResult, error) {
	return execute(s, func() (storage.AddResult, error) { return s.inner.AddCounts(ctx, counts) })
}

func (s *Store) Reset(ctx context.Context) error {
	return run(s, func() error { return s.inner.Reset(ctx) })
}

func (s *Store) Outliers(ctx context.Context) ([]demand.ManualOutlier, error) {
	return execute(s, func() ([]demand.ManualOutlier, error) { return s.inner.Outliers(ctx) })
}

func (s *Store) PutOutlier(ctx context.Context, o demand.ManualOutlier) error {
	return run(s, func() error { return s.inner.PutOutlier(ctx, o) })
}

func (s *Store) Multipliers(ctx context.Context) ([]demand.PredictedMultiplier, error) {
	return execute(s, func() ([]demand.PredictedMultiplier, error) { return s.inner.Multipliers(ctx) })
}

func (s *Store) PutMultiplier(ctx context.Context, m demand.PredictedMultiplier) error {
	return run(s, func() error { return s.inner.PutMultiplier(ctx, m) })
}

func (s *Store) Predictions(ctx context.Context) ([]demand.Prediction, error) {
	return execute(s, func() ([]demand.Prediction, error) { return s.inner.Predictions(ctx) })
}

func (s *Store) PutPredictions(ctx context.Context, ps []demand.Prediction) error {
	return run(s, func() error { return s.inner.PutPredictions(ctx, ps) })
}

func (s *Store) DeletePredictions(ctx context.Context, ids []bucket.ID) (int, error) {
	return execute(s, func() (int, error) { return s.inner.DeletePredictions(ctx, ids) })
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	return execute(s, func() (*storage.Stats, error) { return s.inner.Stats(ctx) })
}

// Close closes the wrapped store without going through the breaker.
func (s *Store) Close() error {
	return s.inner.Close()
}

var _ storage.Store = (*Store)(nil)
