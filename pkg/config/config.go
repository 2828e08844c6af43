package config

import "time"

// Server defaults
const (
	DefaultPort            = "8080"
	DefaultMaxStorageGB    = 1
	DefaultMaxMemoryMB     = 48
	DefaultStoragePath     = "./data/demandcast"
	ServerReadTimeout      = 15 * time.Second
	ServerWriteTimeout     = 60 * time.Second
	ServerIdleTimeout      = 120 * time.Second
	ServerShutdownTimeout  = 10 * time.Second
	StorageCheckInterval   = 1 * time.Minute
	StorageUsageWarnFactor = 0.9

	DefaultRequestsPerMinute = 600
)

// Background tasks
const (
	BadgerGCInterval     = 10 * time.Minute
	BadgerGCDiscardRatio = 0.5
	RefreshMaxRetries    = 3
	RefreshBaseDelay     = 30 * time.Second
)

// Forecast defaults and limits
const (
	DefaultForecastDays = 15
	MaxForecastDays     = 100
	ForecastTimeout     = 30 * time.Second
)

// Query timeouts
const (
	HistoryTimeout     = 10 * time.Second
	PredictionsTimeout = 10 * time.Second
	StatsTimeout       = 5 * time.Second
)

// Ingest timeouts and limits
const (
	IngestTimeout                  = 10 * time.Second
	DefaultMaxTimestampsPerRequest = 100000
	MaxIngestBodyBytes             = 16 << 20
	DefaultIngestRate              = 5.0
	DefaultIngestBurst             = 10
)

// Export defaults
const (
	ExportTimeout       = 30 * time.Second
	DefaultExportFormat = "csv"
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
