package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	envVars := []string{
		"HTTP_ADDR", "GRPC_ADDR", "ALLOWED_ORIGINS", "DATA_DIR", "DATABASE_DRIVER", "DATABASE_URL", "REDIS_ADDR",
		"LOG_LEVEL", "HASH_ALGORITHM", "OCR_CONCURRENCY", "OCR_TOTAL_TIMEOUT", "OCR_SHORTCUTS",
		"CAPTURE_INTERVAL", "SIMILARITY_THRESHOLD", "ENABLE_SIMILARITY_CHECK", "ENABLE_OCR",
		"OCR_SAMPLE_EVERY", "RETENTION_DAYS", "JPEG_QUALITY", "CAPTURE_THEME",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	if cfg.HTTPAddr != "127.0.0.1:8765" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, "127.0.0.1:8765")
	}
	if cfg.GRPCAddr != "127.0.0.1:8766" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, "127.0.0.1:8766")
	}
	if want := []string{"localhost:*", "127.0.0.1:*"}; !slices.Equal(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	if cfg.DatabaseDriver != "sqlite3" {
		t.Errorf("DatabaseDriver = %q, want sqlite3", cfg.DatabaseDriver)
	}
	if filepath.Dir(cfg.DatabaseURL) != cfg.DataDir {
		t.Errorf("DatabaseURL = %q, want a file in %q", cfg.DatabaseURL, cfg.DataDir)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.HashAlgorithm != "average" {
		t.Errorf("HashAlgorithm = %q, want average", cfg.HashAlgorithm)
	}
	if len(cfg.Shortcuts) != 4 {
		t.Errorf("Shortcuts = %v, want 4 defaults", cfg.Shortcuts)
	}
	if cfg.OCRTotalTimeout != 0 {
		t.Errorf("OCRTotalTimeout = %v, want 0", cfg.OCRTotalTimeout)
	}
	if cfg.Defaults != DefaultSettings() {
		t.Errorf("Defaults = %+v, want %+v", cfg.Defaults, DefaultSettings())
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("ALLOWED_ORIGINS", "app.example.com, localhost:3000")
	t.Setenv("DATA_DIR", "/var/lib/screenlog")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OCR_TOTAL_TIMEOUT", "90")
	t.Setenv("OCR_SHORTCUTS", "Mine , Other,")
	t.Setenv("OCR_COMMAND", "tesseract {path} stdout")
	t.Setenv("CAPTURE_INTERVAL", "10")
	t.Setenv("ENABLE_OCR", "false")
	t.Setenv("SIMILARITY_THRESHOLD", "150")

	cfg := Load()

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9000")
	}
	if want := []string{"app.example.com", "localhost:3000"}; !slices.Equal(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	if cfg.ScreenshotsDir() != filepath.Join("/var/lib/screenlog", "screenshots") {
		t.Errorf("ScreenshotsDir() = %q", cfg.ScreenshotsDir())
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.OCRTotalTimeout != 90*time.Second {
		t.Errorf("OCRTotalTimeout = %v, want 90s", cfg.OCRTotalTimeout)
	}
	if cfg.OCRCommand != "tesseract {path} stdout" {
		t.Errorf("OCRCommand = %q", cfg.OCRCommand)
	}
	if len(cfg.Shortcuts) != 2 || cfg.Shortcuts[0] != "Mine" || cfg.Shortcuts[1] != "Other" {
		t.Errorf("Shortcuts = %v", cfg.Shortcuts)
	}
	if cfg.Defaults.CaptureIntervalSeconds != 10 {
		t.Errorf("CaptureIntervalSeconds = %d, want 10", cfg.Defaults.CaptureIntervalSeconds)
	}
	if cfg.Defaults.EnableOCR {
		t.Error("EnableOCR should be false")
	}
	if cfg.Defaults.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("out-of-range threshold should reset, got %v", cfg.Defaults.SimilarityThreshold)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "notanint")
	if got := getEnvInt("TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt fallback = %d, want 7", got)
	}

	t.Setenv("TEST_BOOL", "1")
	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool(\"1\") should be true")
	}

	t.Setenv("TEST_LEVEL", "loud")
	if got := getEnvLevel("TEST_LEVEL", slog.LevelWarn); got != slog.LevelWarn {
		t.Errorf("getEnvLevel fallback = %v, want warn", got)
	}
}
