package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/nicktill/demandcast/pkg/logging"
	"github.com/nicktill/demandcast/pkg/validation"
)

// DefaultConfigPaths lists the config files searched in order. The first
// one found is used.
var DefaultConfigPaths = []string{
	"demandcast.yaml",
	"demandcast.yml",
	"/etc/demandcast/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "DEMANDCAST_CONFIG"

// EnvPrefix marks environment variables read as configuration.
// Sections are separated by a double underscore:
//
//	DEMANDCAST_STORAGE__BACKEND=mysql        -> storage.backend
//	DEMANDCAST_FORECAST__REFRESH_INTERVAL=1h -> forecast.refresh_interval
const EnvPrefix = "DEMANDCAST_"

// Config is the complete demandcast configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Forecast ForecastConfig `koanf:"forecast"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Logging  logging.Config `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port       string `koanf:"port" validate:"required,numeric"`
	CORSOrigin string `koanf:"cors_origin"`

	// RequestsPerMinute limits /v1 requests per client IP. 0 disables.
	RequestsPerMinute int `koanf:"requests_per_minute" validate:"gte=0"`
}

// StorageConfig selects and sizes the store.
type StorageConfig struct {
	Backend      string      `koanf:"backend" validate:"oneof=badger memory mysql"`
	Path         string      `koanf:"path" validate:"required_if=Backend badger"`
	MaxMemoryMB  int64       `koanf:"max_memory_mb" validate:"gte=0"`
	MaxStorageGB int64       `koanf:"max_storage_gb" validate:"gte=0"`
	MySQL        MySQLConfig `koanf:"mysql"`
}

// MySQLConfig configures the mysql backend.
type MySQLConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gte=0"`
}

// ForecastConfig configures prediction runs.
type ForecastConfig struct {
	// DefaultDays is used when a request names no day count.
	DefaultDays int `koanf:"default_days" validate:"gt=0,lt=100"`

	// RefreshInterval re-runs the forecast in the background. 0 disables.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=0"`

	// Calendar is a YAML anomaly file. Empty uses the built-in calendar.
	Calendar string `koanf:"calendar"`

	// SkipCalendar disables calendar anomalies entirely.
	SkipCalendar bool `koanf:"skip_calendar"`
}

// IngestConfig limits login ingestion.
type IngestConfig struct {
	MaxTimestamps int `koanf:"max_timestamps" validate:"gt=0"`

	// RateLimit is requests per second across all clients. 0 disables.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	Burst     int     `koanf:"burst" validate:"gte=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              DefaultPort,
			CORSOrigin:        "*",
			RequestsPerMinute: DefaultRequestsPerMinute,
		},
		Storage: StorageConfig{
			Backend:      "badger",
			Path:         DefaultStoragePath,
			MaxMemoryMB:  DefaultMaxMemoryMB,
			MaxStorageGB: DefaultMaxStorageGB,
		},
		Forecast: ForecastConfig{
			DefaultDays: DefaultForecastDays,
		},
		Ingest: IngestConfig{
			MaxTimestamps: DefaultMaxTimestampsPerRequest,
			RateLimit:     DefaultIngestRate,
			Burst:         DefaultIngestBurst,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, the YAML file and the environment, in that order
// of precedence, and validates the result. An empty path searches
// ConfigPathEnvVar and DefaultConfigPaths; a missing file there is not an
// error, but an explicit path that cannot be read is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return envTransformFunc(key), value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field rules and cross-field constraints.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	if c.Storage.Backend == "mysql" && c.Storage.MySQL.DSN == "" {
		return errors.New("storage.mysql.dsn is required for the mysql backend")
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf paths. Returning
// "" drops the variable, as does an empty value.
//
//	PORT                                -> server.port
//	DEMANDCAST_STORAGE__MYSQL__DSN      -> storage.mysql.dsn
//	DEMANDCAST_LOGGING__LEVEL           -> logging.level
func envTransformFunc(key string) string {
	if key == "PORT" {
		return "server.port"
	}
	if !strings.HasPrefix(key, EnvPrefix) || key == ConfigPathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
