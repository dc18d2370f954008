// Package config loads service and tool settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultCDSURL is the Copernicus Climate Data Store API endpoint.
const DefaultCDSURL = "https://cds.climate.copernicus.eu/api/v2"

// DefaultTileURL is the OpenStreetMap tile template ({z}/{x}/{y}).
const DefaultTileURL = "https://a.tile.openstreetmap.org/{z}/{x}/{y}.png"

// Config holds all settings, populated from environment variables.
type Config struct {
	CDSURL string
	CDSKey string

	ScratchDir string
	OutputDir  string
	Location   *time.Location

	Port               string
	CORSAllowedOrigins []string
	HTTPTimeout        time.Duration

	LogLevel  string
	LogFormat string

	TileURL       string
	TileUserAgent string

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from the environment, applying defaults where unset.
// A missing CDS key is not an error here; the CDS client rejects it at
// construction so that overlay-only tools still run without one.
func Load() (*Config, error) {
	timeout, err := time.ParseDuration(getEnv("HTTP_TIMEOUT", "60s"))
	if err != nil || timeout <= 0 {
		return nil, errors.New("invalid HTTP_TIMEOUT")
	}

	loc := time.Local
	if name := os.Getenv("TZ_NAME"); name != "" {
		loc, err = time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ_NAME %q: %w", name, err)
		}
	}

	cfg := &Config{
		CDSURL:             strings.TrimRight(getEnv("CDS_URL", DefaultCDSURL), "/"),
		CDSKey:             os.Getenv("CDS_KEY"),
		ScratchDir:         getEnv("SCRATCH_DIR", "tmp"),
		OutputDir:          getEnv("OUTPUT_DIR", "./data/bundles"),
		Location:           loc,
		Port:               getEnv("PORT", "8080"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPTimeout:        timeout,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		TileURL:            getEnv("TILE_URL", DefaultTileURL),
		TileUserAgent:      getEnv("TILE_USER_AGENT", "climate-compiler/0.1"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "climate-bundles"),
	}

	if cfg.ScratchDir == "" {
		return nil, errors.New("SCRATCH_DIR must not be empty")
	}
	if !strings.Contains(cfg.TileURL, "{z}") || !strings.Contains(cfg.TileURL, "{x}") || !strings.Contains(cfg.TileURL, "{y}") {
		return nil, fmt.Errorf("TILE_URL must contain {z}, {x} and {y}: %s", cfg.TileURL)
	}

	return cfg, nil
}

// KafkaEnabled reports whether compile events should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
