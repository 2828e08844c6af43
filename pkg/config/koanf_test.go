package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demandcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, DefaultStoragePath, cfg.Storage.Path)
	assert.Equal(t, int64(DefaultMaxMemoryMB), cfg.Storage.MaxMemoryMB)
	assert.Equal(t, DefaultForecastDays, cfg.Forecast.DefaultDays)
	assert.Zero(t, cfg.Forecast.RefreshInterval)
	assert.Equal(t, DefaultMaxTimestampsPerRequest, cfg.Ingest.MaxTimestamps)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
storage:
  backend: memory
forecast:
  default_days: 30
  refresh_interval: 1h
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 30, cfg.Forecast.DefaultDays)
	assert.Equal(t, time.Hour, cfg.Forecast.RefreshInterval)
	assert.Equal(t, "console", cfg.Logging.Format)
	// untouched sections keep their defaults
	assert.Equal(t, DefaultIngestBurst, cfg.Ingest.Burst)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "forecast:\n  default_days: 30\n")
	t.Setenv("DEMANDCAST_FORECAST__DEFAULT_DAYS", "7")
	t.Setenv("DEMANDCAST_STORAGE__BACKEND", "mysql")
	t.Setenv("DEMANDCAST_STORAGE__MYSQL__DSN", "demand:secret@tcp(db:3306)/demand")
	t.Setenv("DEMANDCAST_STORAGE__MYSQL__CONN_MAX_LIFETIME", "90s")
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Forecast.DefaultDays)
	assert.Equal(t, "mysql", cfg.Storage.Backend)
	assert.Equal(t, "demand:secret@tcp(db:3306)/demand", cfg.Storage.MySQL.DSN)
	assert.Equal(t, 90*time.Second, cfg.Storage.MySQL.ConnMaxLifetime)
	assert.Equal(t, "7000", cfg.Server.Port)
}

func TestLoad_ConfigPathEnvVar(t *testing.T) {
	path := writeConfig(t, "ingest:\n  max_timestamps: 42\n")
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Ingest.MaxTimestamps)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"days too large", "forecast:\n  default_days: 100\n", "default_days must be less than 100"},
		{"unknown backend", "storage:\n  backend: sqlite\n", "backend must be one of"},
		{"bad port", "server:\n  port: http\n", "port"},
		{"mysql without dsn", "storage:\n  backend: mysql\n", "storage.mysql.dsn is required"},
		{"bad log level", "logging:\n  level: loud\n", "level must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"PORT", "server.port"},
		{"DEMANDCAST_LOGGING__LEVEL", "logging.level"},
		{"DEMANDCAST_STORAGE__MYSQL__MAX_OPEN_CONNS", "storage.mysql.max_open_conns"},
		{"DEMANDCAST_CONFIG", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransformFunc(tt.key), tt.key)
	}
}
