package server

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/nicktill/demandcast/pkg/calendar"
	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/export"
	"github.com/nicktill/demandcast/pkg/forecast"
	"github.com/nicktill/demandcast/pkg/ingest"
	"github.com/nicktill/demandcast/pkg/logging"
	"github.com/nicktill/demandcast/pkg/server/monitor"
	"github.com/nicktill/demandcast/pkg/storage"
	"github.com/nicktill/demandcast/pkg/storage/badger"
	"github.com/nicktill/demandcast/pkg/storage/breaker"
	"github.com/nicktill/demandcast/pkg/storage/memory"
	"github.com/nicktill/demandcast/pkg/storage/mysql"
)

// OpenStore opens the backend named by cfg.Backend. The mysql store is
// wrapped in a circuit breaker; the embedded backends are not.
func OpenStore(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		log.Info().Msg("Using in-memory storage, data will not survive a restart")
		return memory.New(), nil

	case "mysql":
		log.Info().Msg("Connecting to MySQL storage...")
		store, err := mysql.New(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("MySQL storage initialized successfully")
		return breaker.New(store, breaker.DefaultConfig("mysql"), log), nil

	case "badger", "":
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		log.Info().Str("path", cfg.Path).Int64("max_memory_mb", cfg.MaxMemoryMB).Msg("Initializing BadgerDB storage...")
		store, err := badger.New(badger.Config{
			Path:        cfg.Path,
			MaxMemoryMB: cfg.MaxMemoryMB,
			Logger:      logging.NewBadgerLogger(log.With().Str("component", "badger").Logger()),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("BadgerDB storage initialized successfully")
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// App holds the wired components of a running server.
type App struct {
	Config         *config.Config
	Store          storage.Store
	Predictor      *forecast.Predictor
	Hub            *ingest.Hub
	StorageMonitor *monitor.StorageMonitor
	RunMonitor     *monitor.RunMonitor

	Ingest   *ingest.Handler
	Forecast *forecast.Handler
	Export   *export.Handler

	log zerolog.Logger
}

// NewApp wires handlers, monitors and the predictor around an open store.
func NewApp(cfg *config.Config, store storage.Store, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Store: store, log: log}

	maxBytes := cfg.Storage.MaxStorageGB << 30
	if _, ok := store.(*badger.Storage); ok {
		a.StorageMonitor = monitor.NewStorageMonitor(cfg.Storage.Path, maxBytes)
	} else {
		a.StorageMonitor = monitor.NewStoreMonitor(store, maxBytes)
	}
	if maxBytes > 0 {
		log.Info().Int64("max_storage_gb", cfg.Storage.MaxStorageGB).Msg("Storage limit enforcement enabled")
	}

	a.Hub = ingest.NewHub(log.With().Str("component", "websocket").Logger())

	a.Predictor = forecast.New(store, log.With().Str("component", "forecast").Logger())
	if !cfg.Forecast.SkipCalendar {
		cal, err := calendar.Load(cfg.Forecast.Calendar)
		if err != nil {
			return nil, fmt.Errorf("failed to load calendar: %w", err)
		}
		a.Predictor.SetCalendar(cal)
	}
	a.Predictor.SetOnRun(func(run forecast.Run) {
		a.Hub.Publish(ingest.EventForecastUpdated, run)
	})

	// A refresh that has not succeeded for two intervals is stale.
	a.RunMonitor = monitor.NewRunMonitor(2 * cfg.Forecast.RefreshInterval)

	a.Ingest = ingest.NewHandler(store, cfg.Ingest.MaxTimestamps, log.With().Str("component", "ingest").Logger())
	a.Ingest.SetLimiter(ingest.NewLimiter(cfg.Ingest.RateLimit, cfg.Ingest.Burst))
	a.Ingest.SetHub(a.Hub)
	if maxBytes > 0 {
		a.Ingest.SetStorageChecker(a.StorageMonitor)
	}

	a.Forecast = forecast.NewHandler(a.Predictor, store, cfg.Forecast.DefaultDays)
	a.Export = export.NewHandler(store, log.With().Str("component", "export").Logger())

	return a, nil
}

// Services returns the background services the supervisor should run,
// excluding the HTTP server.
func (a *App) Services() []suture.Service {
	services := []suture.Service{
		a.Hub,
		NewRefreshService(a.Predictor, a.RunMonitor, a.Config.Forecast.RefreshInterval, a.Config.Forecast.DefaultDays, a.log),
	}
	if bs, ok := a.Store.(*badger.Storage); ok {
		services = append(services, NewGCService(bs, a.log))
	}
	return services
}
