package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/demandcast/pkg/config"
	"github.com/nicktill/demandcast/pkg/httpx"
	"github.com/nicktill/demandcast/pkg/metrics"
	"github.com/nicktill/demandcast/pkg/server/monitor"
	"github.com/nicktill/demandcast/pkg/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Refresh   monitor.RunStatus `json:"refresh"`
	WSClients int               `json:"ws_clients"`
}

// handleHealth returns service health status.
func handleHealth(runMonitor *monitor.RunMonitor, clients func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := runMonitor.Status()
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !status.Healthy {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:    overallStatus,
			Version:   Version,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Refresh:   status,
			WSClients: clients(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(monitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := monitor.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		usage := StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  monitor.GetLimit(),
		}

		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// handleStats returns row counts and the covered history range.
func handleStats(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
		defer cancel()

		stats, err := store.Stats(ctx)
		if err != nil {
			httpx.RespondDomainError(w, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, stats)
	}
}

// corsOptions allows cfg's origins. "*" or an empty value allows any
// origin without credentials; a comma separated list is matched exactly.
func corsOptions(origin string) cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "If-None-Match"},
		ExposedHeaders: []string{"ETag", "Retry-After", "Content-Disposition"},
		MaxAge:         300,
	}
	if origin == "" || origin == "*" {
		opts.AllowedOrigins = []string{"*"}
		return opts
	}
	for _, o := range strings.Split(origin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			opts.AllowedOrigins = append(opts.AllowedOrigins, o)
		}
	}
	opts.AllowCredentials = true
	return opts
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, app *App) {
	router.Use(metrics.Middleware)

	// Prometheus scrape endpoint
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/v1").Subrouter()
	if n := app.Config.Server.RequestsPerMinute; n > 0 {
		api.Use(httprate.LimitByIP(n, time.Minute))
	}

	// Service state
	api.HandleFunc("/health", handleHealth(app.RunMonitor, app.Hub.Clients)).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(app.StorageMonitor)).Methods("GET")
	api.HandleFunc("/stats", handleStats(app.Store)).Methods("GET")

	// WebSocket for history and forecast events
	api.HandleFunc("/ws", app.Hub.HandleWebSocket).Methods("GET")

	app.Ingest.RegisterRoutes(api)
	app.Forecast.RegisterRoutes(api)
	app.Export.RegisterRoutes(api)
}

// NewHandler mounts every route and wraps the router in CORS handling.
// CORS sits outside the router so preflight requests are answered even
// though no route accepts OPTIONS.
func NewHandler(app *App) http.Handler {
	router := mux.NewRouter()
	SetupRoutes(router, app)
	return cors.Handler(corsOptions(app.Config.Server.CORSOrigin))(router)
}

// NewHTTPServer builds the listener for app on cfg.Server.Port.
func NewHTTPServer(app *App) *http.Server {
	return &http.Server{
		Addr:         ":" + app.Config.Server.Port,
		Handler:      NewHandler(app),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}
}
