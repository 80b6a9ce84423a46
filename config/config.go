/*
Package config loads server settings from the environment.

SOURCES (later wins):
  1. Defaults below
  2. .env file in the working directory, if present
  3. Process environment
  4. Command-line flags (applied by cmd/server)

VARIABLES:
  PORT                 HTTP port (default 8080)
  DB_PATH              SQLite path (default ./data/attendance.db)
  WORKERS              Pipeline units in flight (default 8)
  FETCH_TIMEOUT        Per-unit input fetch timeout (default 5s)
  SCHEDULER_INTERVAL   End-of-day run interval (default 1h)
  SCHEDULER_ENABLED    true/false (default true)
  SCHEDULER_LOOKBACK   Closed days re-run per pass (default 1)
  CORS_ORIGINS         Comma-separated allowed origins
  TIMEZONE             Zone the scheduler uses to decide "yesterday" (default UTC)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	DBPath            string
	Workers           int
	FetchTimeout      time.Duration
	SchedulerInterval time.Duration
	SchedulerEnabled  bool
	SchedulerLookback int
	CORSOrigins       []string
	Timezone          string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:              "8080",
		DBPath:            "./data/attendance.db",
		Workers:           8,
		FetchTimeout:      5 * time.Second,
		SchedulerInterval: time.Hour,
		SchedulerEnabled:  true,
		SchedulerLookback: 1,
		Timezone:          "UTC",
	}
}

// Load reads .env files (missing files are ignored) and then the process
// environment on top of Default.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. An empty value keeps
// the default.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	var err error

	if v := getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("WORKERS"); v != "" {
		if cfg.Workers, err = strconv.Atoi(v); err != nil || cfg.Workers < 1 {
			return Config{}, fmt.Errorf("WORKERS: invalid value %q", v)
		}
	}
	if v := getenv("FETCH_TIMEOUT"); v != "" {
		if cfg.FetchTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("FETCH_TIMEOUT: %w", err)
		}
	}
	if v := getenv("SCHEDULER_INTERVAL"); v != "" {
		if cfg.SchedulerInterval, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("SCHEDULER_INTERVAL: %w", err)
		}
	}
	if v := getenv("SCHEDULER_ENABLED"); v != "" {
		if cfg.SchedulerEnabled, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("SCHEDULER_ENABLED: %w", err)
		}
	}
	if v := getenv("SCHEDULER_LOOKBACK"); v != "" {
		if cfg.SchedulerLookback, err = strconv.Atoi(v); err != nil || cfg.SchedulerLookback < 1 {
			return Config{}, fmt.Errorf("SCHEDULER_LOOKBACK: invalid value %q", v)
		}
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	if v := getenv("TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("TIMEZONE: %w", err)
	}
	return cfg, nil
}

// Location returns the configured time zone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
