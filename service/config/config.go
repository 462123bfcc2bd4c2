package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	LogLevel    string
	SSEInterval time.Duration

	// Dataset configuration
	DatasetURI    string
	DatasetFilter string
	DatasetTable  string

	// Replay timing, all in milliseconds
	TxInterval      float64
	EdgePersistence float64
	EdgeSpeed       float64
	EdgeRetention   float64
	FrameInterval   time.Duration
	Autoplay        bool

	// Layout configuration
	LayoutExtent float64
	LayoutSeed   int64

	// NATS configuration; empty disables publishing
	NATSURL string
}

// Load reads configuration from environment variables and validates all fields.
// Returns an error listing every invalid setting.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	sseInterval, err := parseDuration("SSE_INTERVAL", "100ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SSEInterval = sseInterval
	}

	// Dataset configuration
	cfg.DatasetURI = getEnvOrDefault("DATASET_URI", "transfers.json")
	cfg.DatasetFilter = os.Getenv("DATASET_FILTER")
	cfg.DatasetTable = getEnvOrDefault("DATASET_TABLE", "transfers")

	// Replay timing
	floats := []struct {
		key    string
		def    float64
		target *float64
	}{
		{"TX_INTERVAL_MS", 600, &cfg.TxInterval},
		{"EDGE_PERSISTENCE_MS", 8000, &cfg.EdgePersistence},
		{"EDGE_SPEED", 0.25, &cfg.EdgeSpeed},
		{"EDGE_RETENTION_MS", 0, &cfg.EdgeRetention},
		{"LAYOUT_EXTENT", 100, &cfg.LayoutExtent},
	}
	for _, f := range floats {
		v, err := parseFloat(f.key, f.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.target = v
	}

	frameInterval, err := parseDuration("FRAME_INTERVAL", "16ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.FrameInterval = frameInterval
	}

	autoplay, err := parseBool("AUTOPLAY", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Autoplay = autoplay
	}

	seed, err := parseInt64("LAYOUT_SEED", 0)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LayoutSeed = seed
	}

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatasetURI == "" {
		errs = append(errs, fmt.Errorf("DatasetURI is required"))
	}

	if c.DatasetTable == "" {
		errs = append(errs, fmt.Errorf("DatasetTable is required"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LogLevel must be one of debug, info, warn, error (got %q)", c.LogLevel))
	}

	if c.TxInterval <= 0 {
		errs = append(errs, fmt.Errorf("TxInterval must be positive"))
	}

	if c.EdgePersistence <= 0 {
		errs = append(errs, fmt.Errorf("EdgePersistence must be positive"))
	}

	if c.EdgeSpeed <= 0 {
		errs = append(errs, fmt.Errorf("EdgeSpeed must be positive"))
	}

	if c.EdgeRetention < 0 {
		errs = append(errs, fmt.Errorf("EdgeRetention cannot be negative"))
	}

	if c.LayoutExtent <= 0 {
		errs = append(errs, fmt.Errorf("LayoutExtent must be positive"))
	}

	if c.FrameInterval < time.Millisecond {
		errs = append(errs, fmt.Errorf("FrameInterval must be at least 1 millisecond"))
	}

	if c.SSEInterval < c.FrameInterval {
		errs = append(errs, fmt.Errorf("SSEInterval (%v) cannot be shorter than FrameInterval (%v)",
			c.SSEInterval, c.FrameInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return 0, fmt.Errorf("%s: invalid number %q: must be finite", key, value)
	}
	return result, nil
}

// parseInt64 parses an integer from an environment variable or uses a default.
func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
