// Package config handles process configuration and runtime capture settings
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level settings read once at startup.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	// Browser origins (host patterns) allowed to call the API.
	AllowedOrigins []string
	DataDir        string
	DatabaseDriver string
	DatabaseURL    string
	SettingsFile   string
	RedisAddr      string
	LogLevel       slog.Level
	LogFormat      string

	HashAlgorithm      string
	OCRConcurrency     int
	OCRTotalTimeout    time.Duration
	OCRCommand         string
	TesseractLanguages []string
	GeminiAPIKey       string
	GeminiModel        string
	Shortcuts          []string

	// Defaults for the runtime settings when no settings file overrides them.
	Defaults Settings
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", defaultDataDir())
	cfg := &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", "127.0.0.1:8765"),
		GRPCAddr:           getEnv("GRPC_ADDR", "127.0.0.1:8766"),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS", []string{"localhost:*", "127.0.0.1:*"}),
		DataDir:            dataDir,
		DatabaseDriver:     getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:        getEnv("DATABASE_URL", filepath.Join(dataDir, "screenlog.db")),
		SettingsFile:       getEnv("SETTINGS_FILE", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		LogLevel:           getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		HashAlgorithm:      getEnv("HASH_ALGORITHM", "average"),
		OCRConcurrency:     getEnvInt("OCR_CONCURRENCY", 2),
		OCRTotalTimeout:    time.Duration(getEnvInt("OCR_TOTAL_TIMEOUT", 0)) * time.Second,
		OCRCommand:         getEnv("OCR_COMMAND", ""),
		TesseractLanguages: getEnvList("TESSERACT_LANGUAGES", []string{"eng"}),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		Shortcuts: getEnvList("OCR_SHORTCUTS", []string{
			"Extract Text from Image", "OCR Text", "Get Text from Image", "Text Recognition",
		}),
		Defaults: Settings{
			CaptureIntervalSeconds: getEnvInt("CAPTURE_INTERVAL", DefaultCaptureInterval),
			SimilarityThreshold:    getEnvFloat("SIMILARITY_THRESHOLD", DefaultSimilarityThreshold),
			EnableSimilarityCheck:  getEnvBool("ENABLE_SIMILARITY_CHECK", true),
			EnableOCR:              getEnvBool("ENABLE_OCR", true),
			OCRSampleEvery:         getEnvInt("OCR_SAMPLE_EVERY", DefaultOCRSampleEvery),
			RetentionDays:          getEnvInt("RETENTION_DAYS", DefaultRetentionDays),
			JPEGQuality:            getEnvInt("JPEG_QUALITY", DefaultJPEGQuality),
			Theme:                  getEnv("CAPTURE_THEME", ""),
		},
	}
	cfg.Defaults = cfg.Defaults.Validate()
	return cfg
}

// ScreenshotsDir is where dated capture folders live.
func (c *Config) ScreenshotsDir() string {
	return filepath.Join(c.DataDir, "screenshots")
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".screenlog")
	}
	return filepath.Join(os.TempDir(), "screenlog")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}

func getEnvLevel(key string, def slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			return lvl
		}
	}
	return def
}
