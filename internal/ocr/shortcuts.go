package ocr

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// ShortcutsStrategy runs user-installed macOS Shortcuts that accept an image
// and print its text. Names are tried in order until one yields output.
type ShortcutsStrategy struct {
	names []string
	probe *probe
}

func NewShortcuts(names []string) *ShortcutsStrategy {
	return &ShortcutsStrategy{
		names: names,
		probe: newProbe(func(ctx context.Context) bool {
			return exec.CommandContext(ctx, "shortcuts", "list").Run() == nil
		}),
	}
}

func (s *ShortcutsStrategy) Name() string { return "shortcuts" }

func (s *ShortcutsStrategy) Available(ctx context.Context) bool {
	return len(s.names) > 0 && s.probe.check(ctx)
}

func (s *ShortcutsStrategy) Extract(ctx context.Context, path string) (string, error) {
	if len(s.names) == 0 {
		return "", apperrors.New(apperrors.OCRStrategyUnavailable, "no shortcuts configured")
	}
	var errs []error
	for _, name := range s.names {
		out, err := runCommand(ctx, "shortcuts", "run", name, "--input-path", path)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if strings.TrimSpace(out) != "" {
			return out, nil
		}
	}
	if len(errs) == len(s.names) {
		return "", apperrors.Wrap(errors.Join(errs...), apperrors.OCRStrategyUnavailable, "no usable OCR shortcut")
	}
	return "", nil
}
