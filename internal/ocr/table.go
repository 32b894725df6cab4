package ocr

import (
	"context"
	"log/slog"
	"runtime"
)

// TableConfig carries the settings the built-in strategies need.
type TableConfig struct {
	// Command, when set, is a custom OCR command line tried first.
	Command            string
	Shortcuts          []string
	TesseractLanguages []string
	GeminiAPIKey       string
	GeminiModel        string
	// WorkDir holds generated helper scripts and binaries.
	WorkDir string
}

// DefaultTable returns the strategies for this platform in priority order,
// keeping only those whose capability probe passes.
func DefaultTable(ctx context.Context, cfg TableConfig) []Entry {
	var candidates []Entry

	if cfg.Command != "" {
		if cmd, err := NewCommand("command", cfg.Command); err != nil {
			slog.Warn("ignoring OCR command", "error", err)
		} else {
			candidates = append(candidates, Entry{Strategy: cmd, Timeout: CommandTimeout})
		}
	}

	switch runtime.GOOS {
	case "darwin":
		if macOSVisionSupported(ctx) {
			candidates = append(candidates,
				Entry{Strategy: NewShortcuts(cfg.Shortcuts), Timeout: ShortcutsTimeout},
				Entry{Strategy: NewPyObjC(cfg.WorkDir), Timeout: PyObjCTimeout},
				Entry{Strategy: NewObjC(cfg.WorkDir), Timeout: ObjCTimeout},
			)
		} else {
			slog.Info("macOS older than 10.15, Vision OCR disabled")
		}
	case "windows":
		candidates = append(candidates, Entry{Strategy: NewWindows(), Timeout: WindowsTimeout})
	}

	candidates = append(candidates,
		Entry{Strategy: NewTesseract(cfg.TesseractLanguages), Timeout: TesseractTimeout},
		Entry{Strategy: NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel), Timeout: GeminiTimeout},
	)

	var table []Entry
	for _, e := range candidates {
		if !e.Strategy.Available(ctx) {
			slog.Debug("ocr strategy unavailable", "strategy", e.Strategy.Name())
			continue
		}
		table = append(table, e)
	}
	names := make([]string, len(table))
	for i, e := range table {
		names[i] = e.Strategy.Name()
	}
	slog.Info("ocr strategies selected", "platform", runtime.GOOS, "strategies", names)
	return table
}
