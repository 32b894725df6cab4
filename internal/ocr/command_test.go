package ocr

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not on PATH")
	}
}

func TestCommandStrategyExtract(t *testing.T) {
	requireShell(t)
	path := t.TempDir() + "/capture.jpg"
	if err := os.WriteFile(path, []byte("line one\r\n\r\n\r\nline two"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd, err := NewCommand("cat", "cat {path}")
	if err != nil {
		t.Fatal(err)
	}
	if !cmd.Available(context.Background()) {
		t.Skip("cat not available")
	}

	res, err := NewPipeline(Entry{Strategy: cmd}).Extract(context.Background(), path, 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "line one\n\nline two" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestCommandStrategyAppendsPath(t *testing.T) {
	cmd, err := NewCommand("x", "ocrtool --fast")
	if err != nil {
		t.Fatal(err)
	}
	if len(cmd.args) != 2 || cmd.args[1] != PathPlaceholder {
		t.Errorf("args = %v, want path appended", cmd.args)
	}
	if _, err := NewCommand("x", "   "); !apperrors.IsCode(err, apperrors.ConfigInvalid) {
		t.Errorf("empty command err = %v, want CONFIG_INVALID", err)
	}
}

func TestCommandStrategyFailureCarriesStderr(t *testing.T) {
	requireShell(t)
	_, err := runCommand(context.Background(), "sh", "-c", "echo 'no such shortcut' >&2; exit 1")
	if err == nil || !strings.Contains(err.Error(), "no such shortcut") {
		t.Errorf("err = %v, want stderr included", err)
	}
}

func TestCommandStrategyTimeoutKillsProcess(t *testing.T) {
	requireShell(t)
	path := t.TempDir() + "/capture.jpg"
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	// tail -f never exits on its own.
	cmd, err := NewCommand("follow", "tail -f {path}")
	if err != nil {
		t.Fatal(err)
	}
	if !cmd.Available(context.Background()) {
		t.Skip("tail not available")
	}
	p := NewPipeline(Entry{Strategy: cmd, Timeout: 100 * time.Millisecond})

	start := time.Now()
	res, err := p.Extract(context.Background(), path, 0)
	if !apperrors.IsCode(err, apperrors.OCRAllFailed) {
		t.Fatalf("err = %v, want OCR_ALL_FAILED", err)
	}
	if !apperrors.IsCode(res.Attempts[0].Err, apperrors.OCRStrategyTimeout) {
		t.Errorf("attempt err = %v, want OCR_STRATEGY_TIMEOUT", res.Attempts[0].Err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("timed-out command was not killed")
	}
}
