package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/logging"
	"github.com/nicktill/demandcast/pkg/server"
)

func main() {
	// Config file is found through DEMANDCAST_CONFIG or the default paths
	cfg, err := config.Load("")
	if err != nil {
		l := logging.Logger()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging)
	log := logging.Logger()
	log.Info().
		Str("backend", cfg.Storage.Backend).
		Str("port", cfg.Server.Port).
		Dur("refresh_interval", cfg.Forecast.RefreshInterval).
		Msg("Starting demandcast server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := server.OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Storage close failed")
		}
	}()

	app, err := server.NewApp(cfg, store, log)
	if err != nil {
		store.Close()
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	sup := server.NewSupervisor(server.DefaultSupervisorConfig(), log)
	sup.Add(server.NewHTTPService(server.NewHTTPServer(app), config.ServerShutdownTimeout))
	for _, svc := range app.Services() {
		sup.Add(svc)
	}

	log.Info().Msgf("Server ready on http://localhost:%s", cfg.Server.Port)
	log.Info().Msg("API endpoints:")
	log.Info().Msg("   POST /v1/logins              - Record login timestamps")
	log.Info().Msg("   GET  /v1/demand/{days}       - Forecast the next days")
	log.Info().Msg("   POST /v1/outliers            - Tag a history hour")
	log.Info().Msg("   POST /v1/predicted-outliers  - Scale a future hour")
	log.Info().Msg("   GET  /v1/export              - Export predictions or history")
	log.Info().Msg("   GET  /v1/ws                  - Live history and forecast events")
	log.Info().Msg("   GET  /metrics                - Prometheus endpoint")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Supervisor stopped")
	}
	log.Info().Msg("demandcast server exited cleanly")
}
