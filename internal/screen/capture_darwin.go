//go:build darwin

package screen

import "context"

type darwinBackend struct{}

func (darwinBackend) name() string { return "screencapture" }
func (darwinBackend) ext() string  { return ".jpg" }

// -x silences the shutter sound, -m limits the grab to the main display.
func (darwinBackend) captureTo(ctx context.Context, path string) error {
	return runTool(ctx, "screencapture", "-x", "-t", "jpg", "-m", path)
}

// New creates the platform screen capturer.
func New() (Capturer, error) {
	return newFileCapturer(darwinBackend{})
}
