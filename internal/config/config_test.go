package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BIGQUERY_PROJECT_ID", "test-project")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Storage.Dataset != "cardsync" {
		t.Errorf("Dataset = %q, want cardsync", cfg.Storage.Dataset)
	}
	if cfg.Scan.DeepScanDays != 365 {
		t.Errorf("DeepScanDays = %d, want 365", cfg.Scan.DeepScanDays)
	}
	if cfg.Scan.StaleAfter != 30*24*time.Hour {
		t.Errorf("StaleAfter = %v, want 720h", cfg.Scan.StaleAfter)
	}
	if cfg.Classify.ChunkSize != 8 {
		t.Errorf("ChunkSize = %d, want 8", cfg.Classify.ChunkSize)
	}
	if cfg.Classify.MaxParallel != 20 {
		t.Errorf("MaxParallel = %d, want 20", cfg.Classify.MaxParallel)
	}
	if cfg.Classify.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.Classify.Timeout)
	}
}

func TestLoad_MissingProject(t *testing.T) {
	t.Setenv("BIGQUERY_PROJECT_ID", "")

	if _, err := Load(); err == nil {
		t.Error("expected error when BIGQUERY_PROJECT_ID is unset")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BIGQUERY_PROJECT_ID", "test-project")
	t.Setenv("CLASSIFY_TIMEOUT", "90s")
	t.Setenv("CLASSIFY_CHUNK_SIZE", "4")
	t.Setenv("SCAN_FAILURE_THRESHOLD", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Classify.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", cfg.Classify.Timeout)
	}
	if cfg.Classify.ChunkSize != 4 {
		t.Errorf("ChunkSize = %d, want 4", cfg.Classify.ChunkSize)
	}
	if cfg.Scan.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.Scan.FailureThreshold)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("BIGQUERY_PROJECT_ID", "test-project")
	t.Setenv("SCAN_INTERVAL", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid SCAN_INTERVAL")
	}
}

func TestLoad_InvalidChunkSize(t *testing.T) {
	t.Setenv("BIGQUERY_PROJECT_ID", "test-project")
	t.Setenv("CLASSIFY_CHUNK_SIZE", "-2")

	if _, err := Load(); err == nil {
		t.Error("expected error for negative chunk size")
	}
}
