package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/GriffinCanCode/screenlog/internal/syncx"
)

// Runtime setting defaults and bounds.
const (
	DefaultCaptureInterval     = 30
	DefaultSimilarityThreshold = 98.0
	DefaultOCRSampleEvery      = 5
	DefaultRetentionDays       = 30
	DefaultJPEGQuality         = 85

	MinCaptureInterval = 1
	MaxCaptureInterval = 3600
	MinRetentionDays   = 1
	MaxRetentionDays   = 365
)

// Settings are the capture knobs consulted on every tick.
type Settings struct {
	CaptureIntervalSeconds int     `yaml:"captureIntervalSeconds" json:"captureIntervalSeconds"`
	SimilarityThreshold    float64 `yaml:"similarityThreshold" json:"similarityThreshold"`
	EnableSimilarityCheck  bool    `yaml:"enableSimilarityCheck" json:"enableSimilarityCheck"`
	EnableOCR              bool    `yaml:"enableOCR" json:"enableOCR"`
	OCRSampleEvery         int     `yaml:"ocrSampleEvery" json:"ocrSampleEvery"`
	RetentionDays          int     `yaml:"retentionDays" json:"retentionDays"`
	JPEGQuality            int     `yaml:"jpegQuality" json:"jpegQuality"`
	Theme                  string  `yaml:"theme" json:"theme"`
}

// DefaultSettings returns the built-in runtime defaults.
func DefaultSettings() Settings {
	return Settings{
		CaptureIntervalSeconds: DefaultCaptureInterval,
		SimilarityThreshold:    DefaultSimilarityThreshold,
		EnableSimilarityCheck:  true,
		EnableOCR:              true,
		OCRSampleEvery:         DefaultOCRSampleEvery,
		RetentionDays:          DefaultRetentionDays,
		JPEGQuality:            DefaultJPEGQuality,
	}
}

// Validate resets out-of-range values to their defaults.
func (s Settings) Validate() Settings {
	if s.CaptureIntervalSeconds < MinCaptureInterval || s.CaptureIntervalSeconds > MaxCaptureInterval {
		slog.Warn("invalid capture interval, using default", "value", s.CaptureIntervalSeconds)
		s.CaptureIntervalSeconds = DefaultCaptureInterval
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 100 {
		slog.Warn("invalid similarity threshold, using default", "value", s.SimilarityThreshold)
		s.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if s.OCRSampleEvery < 1 {
		slog.Warn("invalid OCR sample rate, using default", "value", s.OCRSampleEvery)
		s.OCRSampleEvery = DefaultOCRSampleEvery
	}
	if s.RetentionDays < MinRetentionDays || s.RetentionDays > MaxRetentionDays {
		slog.Warn("invalid retention days, using default", "value", s.RetentionDays)
		s.RetentionDays = DefaultRetentionDays
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		slog.Warn("invalid jpeg quality, using default", "value", s.JPEGQuality)
		s.JPEGQuality = DefaultJPEGQuality
	}
	return s
}

// Interval returns the capture interval as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.CaptureIntervalSeconds) * time.Second
}

// SettingsProvider yields the current settings. Implementations must be cheap
// enough to call on every tick.
type SettingsProvider interface {
	Settings() Settings
}

// SettingsStore is a provider that also accepts updates from the host.
type SettingsStore interface {
	SettingsProvider
	Update(Settings) error
}

// MemorySettings keeps settings in process memory only.
type MemorySettings struct {
	g *syncx.RWGuard[Settings]
}

func NewMemorySettings(initial Settings) *MemorySettings {
	return &MemorySettings{g: syncx.NewGuard(initial.Validate())}
}

func (m *MemorySettings) Settings() Settings { return m.g.Get() }

func (m *MemorySettings) Update(s Settings) error {
	m.g.Set(s.Validate())
	return nil
}

// FileSettings reloads a YAML or INI settings file whenever its mtime changes.
type FileSettings struct {
	path     string
	defaults Settings

	mu      sync.Mutex
	modTime time.Time
	current Settings
}

// NewFileSettings creates a file-backed provider. A missing file yields defaults.
func NewFileSettings(path string, defaults Settings) (*FileSettings, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".ini":
	default:
		return nil, fmt.Errorf("unsupported settings format %q", ext)
	}
	f := &FileSettings{path: path, defaults: defaults.Validate(), current: defaults.Validate()}
	f.Settings()
	return f, nil
}

// Settings returns the latest settings, re-reading the file if it changed.
func (f *FileSettings) Settings() Settings {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("settings file stat failed", "path", f.path, "error", err)
		}
		return f.current
	}
	if info.ModTime().Equal(f.modTime) {
		return f.current
	}

	s, err := f.read()
	if err != nil {
		slog.Warn("settings reload failed, keeping previous", "path", f.path, "error", err)
		return f.current
	}
	f.current = s.Validate()
	f.modTime = info.ModTime()
	slog.Debug("settings reloaded", "path", f.path)
	return f.current
}

// Update writes settings back to the file.
func (f *FileSettings) Update(s Settings) error {
	s = s.Validate()
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	var err error
	if f.isINI() {
		err = writeINI(f.path, s)
	} else {
		err = writeYAML(f.path, s)
	}
	if err != nil {
		return err
	}
	f.current = s
	if info, statErr := os.Stat(f.path); statErr == nil {
		f.modTime = info.ModTime()
	}
	return nil
}

func (f *FileSettings) isINI() bool {
	return strings.EqualFold(filepath.Ext(f.path), ".ini")
}

func (f *FileSettings) read() (Settings, error) {
	if f.isINI() {
		return readINI(f.path, f.defaults)
	}
	return readYAML(f.path, f.defaults)
}

func readYAML(path string, defaults Settings) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, err
	}
	s := defaults
	if err := yaml.Unmarshal(data, &s); err != nil {
		return defaults, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

func writeYAML(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readINI(path string, defaults Settings) (Settings, error) {
	file, err := ini.Load(path)
	if err != nil {
		return defaults, fmt.Errorf("parse %s: %w", path, err)
	}

	capture := file.Section("capture")
	ocr := file.Section("ocr")
	storage := file.Section("storage")

	return Settings{
		CaptureIntervalSeconds: capture.Key("interval").MustInt(defaults.CaptureIntervalSeconds),
		SimilarityThreshold:    capture.Key("similarity_threshold").MustFloat64(defaults.SimilarityThreshold),
		EnableSimilarityCheck:  capture.Key("similarity_check").MustBool(defaults.EnableSimilarityCheck),
		Theme:                  capture.Key("theme").MustString(defaults.Theme),
		JPEGQuality:            capture.Key("jpeg_quality").MustInt(defaults.JPEGQuality),
		EnableOCR:              ocr.Key("enabled").MustBool(defaults.EnableOCR),
		OCRSampleEvery:         ocr.Key("sample_every").MustInt(defaults.OCRSampleEvery),
		RetentionDays:          storage.Key("retention_days").MustInt(defaults.RetentionDays),
	}, nil
}

func writeINI(path string, s Settings) error {
	file := ini.Empty()
	capture := file.Section("capture")
	capture.Key("interval").SetValue(fmt.Sprint(s.CaptureIntervalSeconds))
	capture.Key("similarity_threshold").SetValue(fmt.Sprint(s.SimilarityThreshold))
	capture.Key("similarity_check").SetValue(fmt.Sprint(s.EnableSimilarityCheck))
	capture.Key("theme").SetValue(s.Theme)
	capture.Key("jpeg_quality").SetValue(fmt.Sprint(s.JPEGQuality))

	ocr := file.Section("ocr")
	ocr.Key("enabled").SetValue(fmt.Sprint(s.EnableOCR))
	ocr.Key("sample_every").SetValue(fmt.Sprint(s.OCRSampleEvery))

	file.Section("storage").Key("retention_days").SetValue(fmt.Sprint(s.RetentionDays))
	return file.SaveTo(path)
}
