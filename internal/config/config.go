package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Channel grid backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Over-scan policies for the nearest-channel search.
const (
	PolicyTable    = "table"
	PolicyDistance = "distance"
)

const maxBatchSize = 1000

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Channel grid configuration.
	GridBackend     string
	GridDBPath      string
	GridDatabaseURL string
	GridResolution  float64
	GridNoDataRaw   float64
	GridCacheSize   int

	// Snapping configuration.
	SnapEnabled  bool
	SnapMinFlow  float64
	SnapMaxDepth int
	SnapFallback bool
	SnapPolicy   string
}

// Load reads configuration from environment variables, applying defaults
// where unset, and validates the result.
func Load() (*Config, error) {
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	flushInterval, err := envDuration("BATCH_FLUSH_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	batchSize, err := envInt("BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}
	resolution, err := envFloat("GRID_RESOLUTION", 50)
	if err != nil {
		return nil, err
	}
	noDataRaw, err := envFloat("GRID_NODATA_RAW", 2147483647)
	if err != nil {
		return nil, err
	}
	cacheSize, err := envInt("GRID_CACHE_SIZE", 4096)
	if err != nil {
		return nil, err
	}
	snapEnabled, err := envBool("SNAP_ENABLED", true)
	if err != nil {
		return nil, err
	}
	minFlow, err := envFloat("SNAP_MIN_FLOW", 200)
	if err != nil {
		return nil, err
	}
	maxDepth, err := envInt("SNAP_MAX_DEPTH", 20)
	if err != nil {
		return nil, err
	}
	fallback, err := envBool("SNAP_FALLBACK", true)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "site-register"),
		KafkaSinkTopic:     envOrDefault("KAFKA_SINK_TOPIC", "snapped-sites"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "river-snap"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		GridBackend:     envOrDefault("GRID_BACKEND", BackendSQLite),
		GridDBPath:      envOrDefault("GRID_DB_PATH", "data/ccar.db"),
		GridDatabaseURL: os.Getenv("GRID_DATABASE_URL"),
		GridResolution:  resolution,
		GridNoDataRaw:   noDataRaw,
		GridCacheSize:   cacheSize,

		SnapEnabled:  snapEnabled,
		SnapMinFlow:  minFlow,
		SnapMaxDepth: maxDepth,
		SnapFallback: fallback,
		SnapPolicy:   envOrDefault("SNAP_POLICY", PolicyTable),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints, returning the first violation.
func (c *Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.KafkaSourceTopic == "" {
		return errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if c.KafkaSinkTopic == "" {
		return errors.New("KAFKA_SINK_TOPIC is required")
	}
	if c.BatchSize < 1 || c.BatchSize > maxBatchSize {
		return fmt.Errorf("BATCH_SIZE must be between 1 and %d", maxBatchSize)
	}
	if c.BatchFlushInterval <= 0 {
		return errors.New("BATCH_FLUSH_INTERVAL must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}

	switch c.GridBackend {
	case BackendSQLite:
		if c.GridDBPath == "" {
			return errors.New("GRID_DB_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.GridDatabaseURL == "" {
			return errors.New("GRID_DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown GRID_BACKEND %q", c.GridBackend)
	}
	if c.GridResolution <= 0 {
		return errors.New("GRID_RESOLUTION must be positive")
	}
	if c.GridCacheSize < 0 {
		return errors.New("GRID_CACHE_SIZE must not be negative")
	}

	if c.SnapMaxDepth < 1 {
		return errors.New("SNAP_MAX_DEPTH must be at least 1")
	}
	switch c.SnapPolicy {
	case PolicyTable, PolicyDistance:
	default:
		return fmt.Errorf("unknown SNAP_POLICY %q", c.SnapPolicy)
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, s)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
