//go:build linux

package screen

import (
	"context"
	"os/exec"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// linuxTools are tried in order; the first one on PATH wins for each capture.
var linuxTools = []struct {
	bin  string
	args func(path string) []string
}{
	{"gnome-screenshot", func(p string) []string { return []string{"-f", p} }},
	{"scrot", func(p string) []string { return []string{"-o", p} }},
	{"grim", func(p string) []string { return []string{p} }},
	{"import", func(p string) []string { return []string{"-window", "root", p} }},
}

type linuxBackend struct{}

func (linuxBackend) name() string { return "linux" }
func (linuxBackend) ext() string  { return ".png" }

func (linuxBackend) captureTo(ctx context.Context, path string) error {
	for _, tool := range linuxTools {
		if _, err := exec.LookPath(tool.bin); err != nil {
			continue
		}
		return runTool(ctx, tool.bin, tool.args(path)...)
	}
	return apperrors.New(apperrors.CaptureTransient,
		"no screenshot tool found (install gnome-screenshot, scrot, grim or imagemagick)")
}

// New creates the platform screen capturer.
func New() (Capturer, error) {
	return newFileCapturer(linuxBackend{})
}
