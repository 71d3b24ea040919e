package config

import (
	"errors"
	"os"
	"strconv"
)

// Config holds the runtime configuration for the pipeline.
// Values are sourced from environment variables; main loads a .env
// file first when one is present.
type Config struct {
	// TMDBAPIKey is the bearer token for the TMDB v3 API. Required for any
	// command that talks to the upstream API; the client refuses to
	// construct without it.
	TMDBAPIKey string

	// DatabaseURL is the warehouse connection string (PostgreSQL URL). Required.
	DatabaseURL string

	// WarehouseSchema, when set, namespaces the warehouse tables under a
	// dedicated schema (the analytics "dataset"). Empty uses the default
	// search path.
	WarehouseSchema string

	// InitialLoadCount is how many top movies the init-load command seeds.
	InitialLoadCount int

	// MetricsAddr, when set, starts an HTTP listener exposing /metrics and
	// /healthz for the duration of a run.
	MetricsAddr string

	// Env selects logger behavior ("prod" for JSON output).
	Env string
}

// Load reads configuration from the environment. Missing required values
// fail here, before any network or warehouse call is made.
func Load() (*Config, error) {
	cfg := &Config{
		TMDBAPIKey:       os.Getenv("TMDB_API_KEY"),
		DatabaseURL:      os.Getenv("APP_DATABASE_URL"),
		WarehouseSchema:  getenv("APP_WAREHOUSE_SCHEMA", ""),
		InitialLoadCount: 1000,
		MetricsAddr:      getenv("APP_METRICS_ADDR", ""),
		Env:              getenv("APP_ENV", "dev"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}

	if v := os.Getenv("APP_INITIAL_LOAD_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.InitialLoadCount = n
		}
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
