// Package screen acquires raw screenshots from OS tools.
package screen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// Capturer grabs the current screen contents as encoded image bytes.
// Every failure is a CAPTURE_TRANSIENT error; callers log and retry on the
// next tick.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// backend writes one screenshot to path.
type backend interface {
	name() string
	ext() string
	captureTo(ctx context.Context, path string) error
}

// fileCapturer drives a backend through a private temp directory.
type fileCapturer struct {
	backend
	mu      sync.Mutex
	tempDir string
}

func newFileCapturer(b backend) (*fileCapturer, error) {
	dir, err := os.MkdirTemp("", "screenlog-capture-*")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "create capture temp dir")
	}
	return &fileCapturer{backend: b, tempDir: dir}, nil
}

func (c *fileCapturer) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := filepath.Join(c.tempDir, "screen"+c.ext())
	defer os.Remove(path)

	if err := c.captureTo(ctx, path); err != nil {
		return nil, transient(err, c.name())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, transient(err, c.name())
	}
	if len(data) == 0 {
		return nil, apperrors.Newf(apperrors.CaptureTransient, "%s produced an empty image", c.name()).
			WithMetadata("backend", c.name())
	}
	return data, nil
}

func (c *fileCapturer) Close() error {
	return os.RemoveAll(c.tempDir)
}

func transient(err error, backend string) error {
	if apperrors.IsCode(err, apperrors.CaptureTransient) {
		return err
	}
	return apperrors.Wrap(err, apperrors.CaptureTransient, backend+" capture failed").
		WithMetadata("backend", backend)
}

// runTool runs an external capture tool, folding stderr into the error.
func runTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
