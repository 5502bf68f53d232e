package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"trailstats/internal/elevation"
	"trailstats/internal/gps"
)

type Config struct {
	DatabasePath string
	ServerAddr   string

	SRTMDir         string
	SRTMURL         string
	SRTMURLs        []string
	SRTMTimeoutSec  int
	SRTMMaxAttempts int

	TileCacheSize    int
	TileCacheMinutes int

	WorkerPollIntervalMS int

	PauseScatterRadiusM     float64
	PauseMinClusterSeconds  int
	PauseMaxIntervalSeconds int
	ElevationIntervalM      float64
}

// Load reads defaults, then the optional .env file at path, then the
// environment. Variables already set in the environment win over the file.
func Load(path string) (Config, error) {
	cfg := Config{
		ServerAddr:              ":8080",
		SRTMDir:                 "srtm",
		SRTMTimeoutSec:          60,
		SRTMMaxAttempts:         3,
		TileCacheSize:           16,
		TileCacheMinutes:        30,
		WorkerPollIntervalMS:    2000,
		PauseScatterRadiusM:     30,
		PauseMinClusterSeconds:  60,
		PauseMaxIntervalSeconds: 8,
		ElevationIntervalM:      100,
	}

	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	cfg.DatabasePath = getenv("DATABASE_PATH", "trailstats.db")
	cfg.ServerAddr = getenv("SERVER_ADDR", cfg.ServerAddr)
	cfg.SRTMDir = getenv("SRTM_DIR", cfg.SRTMDir)
	cfg.SRTMURL = strings.TrimRight(os.Getenv("SRTM_URL"), "/")
	if v := os.Getenv("SRTM_URLS"); v != "" {
		cfg.SRTMURLs = splitAndTrim(v)
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"SRTM_TIMEOUT_SECONDS", &cfg.SRTMTimeoutSec},
		{"SRTM_MAX_ATTEMPTS", &cfg.SRTMMaxAttempts},
		{"TILE_CACHE_SIZE", &cfg.TileCacheSize},
		{"TILE_CACHE_MINUTES", &cfg.TileCacheMinutes},
		{"WORKER_POLL_INTERVAL_MS", &cfg.WorkerPollIntervalMS},
		{"PAUSE_MIN_CLUSTER_SECONDS", &cfg.PauseMinClusterSeconds},
		{"PAUSE_MAX_INTERVAL_SECONDS", &cfg.PauseMaxIntervalSeconds},
	}
	for _, item := range ints {
		if v := os.Getenv(item.key); v != "" {
			if err := parseInt(item.target, v); err != nil {
				return Config{}, fmt.Errorf("%s: %w", item.key, err)
			}
		}
	}

	if v := os.Getenv("PAUSE_SCATTER_RADIUS_M"); v != "" {
		if err := parseFloat(&cfg.PauseScatterRadiusM, v); err != nil {
			return Config{}, fmt.Errorf("PAUSE_SCATTER_RADIUS_M: %w", err)
		}
	}
	if v := os.Getenv("ELEVATION_INTERVAL_M"); v != "" {
		if err := parseFloat(&cfg.ElevationIntervalM, v); err != nil {
			return Config{}, fmt.Errorf("ELEVATION_INTERVAL_M: %w", err)
		}
	}

	return cfg, nil
}

func (c Config) SRTMTimeout() time.Duration {
	return time.Duration(c.SRTMTimeoutSec) * time.Second
}

func (c Config) TileCacheTTL() time.Duration {
	return time.Duration(c.TileCacheMinutes) * time.Minute
}

func (c Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollIntervalMS) * time.Millisecond
}

func (c Config) PauseOptions() gps.PauseOptions {
	return gps.PauseOptions{
		ScatterRadius:  c.PauseScatterRadiusM,
		MinClusterTime: time.Duration(c.PauseMinClusterSeconds) * time.Second,
		MaxInterval:    time.Duration(c.PauseMaxIntervalSeconds) * time.Second,
	}
}

func (c Config) ProfileOptions() elevation.ProfileOptions {
	return elevation.ProfileOptions{MinInterval: c.ElevationIntervalM}
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseInt(target *int, value string) error {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	*target = parsed
	return nil
}

func parseFloat(target *float64, value string) error {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return err
	}
	*target = parsed
	return nil
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		if v := strings.TrimSpace(strings.TrimRight(p, "/")); v != "" {
			out = append(out, v)
		}
	}
	return out
}
