package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// PathPlaceholder in a command's arguments is replaced by the image path.
const PathPlaceholder = "{path}"

// commandWaitDelay bounds how long we wait for a killed child's pipes to close.
const commandWaitDelay = 2 * time.Second

// runCommand runs an external OCR helper and returns its stdout. A killed or
// failed process reports stderr in the error.
func runCommand(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = commandWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", bin, err, truncate(msg, 200))
		}
		return "", fmt.Errorf("%s: %w", bin, err)
	}
	return stdout.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// CommandStrategy runs an arbitrary OCR program that prints text on stdout.
type CommandStrategy struct {
	name  string
	bin   string
	args  []string
	probe *probe
}

// NewCommand builds a strategy from a command line such as
// "tesseract {path} stdout". The path is appended when no placeholder is given.
func NewCommand(name, commandLine string) (*CommandStrategy, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, apperrors.New(apperrors.ConfigInvalid, "empty OCR command")
	}
	args := fields[1:]
	if !strings.Contains(commandLine, PathPlaceholder) {
		args = append(args, PathPlaceholder)
	}
	bin := fields[0]
	return &CommandStrategy{
		name: name,
		bin:  bin,
		args: args,
		probe: newProbe(func(context.Context) bool {
			_, err := exec.LookPath(bin)
			return err == nil
		}),
	}, nil
}

func (c *CommandStrategy) Name() string { return c.name }

func (c *CommandStrategy) Available(ctx context.Context) bool { return c.probe.check(ctx) }

func (c *CommandStrategy) Extract(ctx context.Context, path string) (string, error) {
	args := make([]string, len(c.args))
	for i, a := range c.args {
		args[i] = strings.ReplaceAll(a, PathPlaceholder, path)
	}
	return runCommand(ctx, c.bin, args...)
}
