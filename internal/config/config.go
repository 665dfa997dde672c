package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config aggregates application configuration values.
type Config struct {
	Logging  LoggingConfig
	Storage  StorageConfig
	Source   SourceConfig
	Scan     ScanConfig
	Classify ClassifyConfig
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level string
}

// StorageConfig describes the BigQuery dataset backing the repository and
// the optional GCS bucket used to archive raw fetch payloads.
type StorageConfig struct {
	ProjectID     string
	Dataset       string
	ArchiveBucket string
}

// SourceConfig governs the external card provider client.
type SourceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ScanConfig governs the reconciliation pass.
type ScanConfig struct {
	Interval         time.Duration
	DeepScanDays     int
	StaleAfter       time.Duration
	FailureThreshold int
}

// ClassifyConfig governs the categorization pass.
type ClassifyConfig struct {
	Interval    time.Duration
	ChunkSize   int
	MaxParallel int
	Timeout     time.Duration
	Model       string
}

const (
	defaultLoggingLevel     = "info"
	defaultDataset          = "cardsync"
	defaultSourceTimeout    = 45 * time.Second
	defaultScanInterval     = 15 * time.Minute
	defaultDeepScanDays     = 365
	defaultStaleAfter       = 30 * 24 * time.Hour
	defaultFailureThreshold = 3
	defaultClassifyInterval = 30 * time.Minute
	defaultChunkSize        = 8
	defaultMaxParallel      = 20
	defaultClassifyTimeout  = 60 * time.Second
	defaultModel            = "gemini-2.5-flash"
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Logging: LoggingConfig{
			Level: valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
		},
		Storage: StorageConfig{
			ProjectID:     os.Getenv("BIGQUERY_PROJECT_ID"),
			Dataset:       valueOrDefault("BIGQUERY_DATASET", defaultDataset),
			ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
		},
		Source: SourceConfig{
			BaseURL: os.Getenv("SOURCE_BASE_URL"),
			Timeout: defaultSourceTimeout,
		},
		Scan: ScanConfig{
			Interval:         defaultScanInterval,
			DeepScanDays:     parseIntWithDefault("SCAN_DEEP_DAYS", defaultDeepScanDays),
			StaleAfter:       defaultStaleAfter,
			FailureThreshold: parseIntWithDefault("SCAN_FAILURE_THRESHOLD", defaultFailureThreshold),
		},
		Classify: ClassifyConfig{
			Interval:    defaultClassifyInterval,
			ChunkSize:   parseIntWithDefault("CLASSIFY_CHUNK_SIZE", defaultChunkSize),
			MaxParallel: parseIntWithDefault("CLASSIFY_MAX_PARALLEL", defaultMaxParallel),
			Timeout:     defaultClassifyTimeout,
			Model:       valueOrDefault("CLASSIFY_MODEL", defaultModel),
		},
	}

	if cfg.Storage.ProjectID == "" {
		return Config{}, fmt.Errorf("BIGQUERY_PROJECT_ID is required")
	}

	var err error
	if cfg.Source.Timeout, err = parseDurationEnv("SOURCE_TIMEOUT", cfg.Source.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.Scan.Interval, err = parseDurationEnv("SCAN_INTERVAL", cfg.Scan.Interval); err != nil {
		return Config{}, err
	}
	if cfg.Scan.StaleAfter, err = parseDurationEnv("SCAN_STALE_AFTER", cfg.Scan.StaleAfter); err != nil {
		return Config{}, err
	}
	if cfg.Classify.Interval, err = parseDurationEnv("CLASSIFY_INTERVAL", cfg.Classify.Interval); err != nil {
		return Config{}, err
	}
	if cfg.Classify.Timeout, err = parseDurationEnv("CLASSIFY_TIMEOUT", cfg.Classify.Timeout); err != nil {
		return Config{}, err
	}

	if cfg.Classify.ChunkSize <= 0 {
		return Config{}, fmt.Errorf("CLASSIFY_CHUNK_SIZE must be positive, got %d", cfg.Classify.ChunkSize)
	}
	if cfg.Classify.MaxParallel <= 0 {
		return Config{}, fmt.Errorf("CLASSIFY_MAX_PARALLEL must be positive, got %d", cfg.Classify.MaxParallel)
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return d, nil
}
