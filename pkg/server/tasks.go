package server

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/demand"
	"github.com/nicktill/demandcast/pkg/forecast"
	"github.com/nicktill/demandcast/pkg/server/monitor"
	"github.com/nicktill/demandcast/pkg/storage/badger"
)

// RefreshService re-runs the forecast on a schedule so stored predictions
// follow new history without a client asking for them.
type RefreshService struct {
	predictor  *forecast.Predictor
	monitor    *monitor.RunMonitor
	interval   time.Duration
	days       int
	maxRetries int
	baseDelay  time.Duration
	log        zerolog.Logger
}

// NewRefreshService creates the refresh task. interval 0 disables it.
func NewRefreshService(p *forecast.Predictor, m *monitor.RunMonitor, interval time.Duration, days int, log zerolog.Logger) *RefreshService {
	return &RefreshService{
		predictor:  p,
		monitor:    m,
		interval:   interval,
		days:       days,
		maxRetries: config.RefreshMaxRetries,
		baseDelay:  config.RefreshBaseDelay,
		log:        log.With().Str("component", "refresh").Logger(),
	}
}

func (s *RefreshService) String() string { return "forecast-refresh" }

// Serve refreshes once at startup and then every interval.
func (s *RefreshService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		s.log.Info().Msg("Scheduled forecast refresh disabled")
		return suture.ErrDoNotRestart
	}

	s.log.Info().Dur("interval", s.interval).Int("days", s.days).Msg("Forecast refresh scheduler started")
	s.runWithRetry(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runWithRetry(ctx)
		case <-ctx.Done():
			s.log.Info().Msg("Stopping forecast refresh scheduler")
			return ctx.Err()
		}
	}
}

// runWithRetry runs one refresh, retrying failures with exponential
// backoff (baseDelay, 2x, 4x). Missing or short history is not retried.
func (s *RefreshService) runWithRetry(ctx context.Context) {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.baseDelay * time.Duration(1<<(attempt-1))
			s.log.Info().Dur("delay", delay).Int("attempt", attempt+1).Msg("Retrying forecast refresh")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, config.ForecastTimeout)
		_, run, err := s.predictor.PredictNext(runCtx, s.days)
		cancel()

		if err == nil {
			s.monitor.RecordSuccess(run.ID)
			return
		}
		if errors.Is(err, demand.ErrEmptyHistory) || errors.Is(err, demand.ErrInsufficientHistory) {
			s.monitor.RecordSkipped(err.Error())
			s.log.Info().Err(err).Msg("Forecast refresh skipped")
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.monitor.RecordFailure(err)
		s.log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", s.maxRetries+1).Msg("Forecast refresh failed")

		if status := s.monitor.Status(); !status.Healthy {
			s.log.Error().Int("consecutive_errors", status.ConsecutiveErrors).Msg("Forecast refresh keeps failing")
		}
	}

	s.log.Warn().Int("attempts", s.maxRetries+1).Msg("Forecast refresh gave up, will retry on next schedule")
}

// GCService runs BadgerDB value log garbage collection periodically to
// reclaim disk space.
type GCService struct {
	store        *badger.Storage
	interval     time.Duration
	discardRatio float64
	log          zerolog.Logger
}

// NewGCService creates the GC task for a badger store.
func NewGCService(store *badger.Storage, log zerolog.Logger) *GCService {
	return &GCService{
		store:        store,
		interval:     config.BadgerGCInterval,
		discardRatio: config.BadgerGCDiscardRatio,
		log:          log.With().Str("component", "badger-gc").Logger(),
	}
}

func (s *GCService) String() string { return "badger-gc" }

// Serve runs GC every interval until ctx is cancelled.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("BadgerDB GC scheduler started")

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := s.store.RunGC(s.discardRatio); err != nil {
				s.log.Warn().Err(err).Msg("BadgerDB GC failed")
				continue
			}
			s.log.Debug().Dur("took", time.Since(start).Round(time.Millisecond)).Msg("BadgerDB GC completed")
		case <-ctx.Done():
			s.log.Info().Msg("Stopping BadgerDB GC scheduler")
			return ctx.Err()
		}
	}
}
