package ocr

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

func TestVersionAtLeast(t *testing.T) {
	tests := []struct {
		v    string
		want bool
	}{
		{"10.14.6", false},
		{"10.15", true},
		{"10.15.7", true},
		{"11.0", true},
		{"14.4.1", true},
		{"9.9", false},
		{"10", false},
		{"", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := versionAtLeast(tt.v, 10, 15); got != tt.want {
			t.Errorf("versionAtLeast(%q) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestFirstText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello "), genai.Text("world")}}},
		},
	}
	if got := firstText(resp); got != "Hello world" {
		t.Errorf("firstText = %q", got)
	}
	if got := firstText(nil); got != "" {
		t.Errorf("firstText(nil) = %q", got)
	}
}

func TestGeminiRetryClassifier(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{&googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{&googleapi.Error{Code: http.StatusBadRequest}, false},
		{apperrors.New(apperrors.Unavailable, "down"), true},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := isRetryableGeminiError(tt.err); got != tt.want {
			t.Errorf("isRetryableGeminiError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGeminiWithoutKey(t *testing.T) {
	g := NewGemini("", "gemini-1.5-flash")
	if g.Available(context.Background()) {
		t.Error("gemini without key should be unavailable")
	}
	_, err := g.Extract(context.Background(), "x.jpg")
	if !apperrors.IsCode(err, apperrors.OCRStrategyUnavailable) {
		t.Errorf("err = %v, want OCR_STRATEGY_UNAVAILABLE", err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close on unused client: %v", err)
	}
}

func TestMimeType(t *testing.T) {
	for path, want := range map[string]string{
		"a.jpg": "image/jpeg", "b.PNG": "image/png", "c.webp": "image/webp", "d": "image/jpeg",
	} {
		if got := mimeType(path); got != want {
			t.Errorf("mimeType(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestShortcutsWithoutNames(t *testing.T) {
	s := NewShortcuts(nil)
	if s.Available(context.Background()) {
		t.Error("no shortcut names should mean unavailable")
	}
	if _, err := s.Extract(context.Background(), "x"); !apperrors.IsCode(err, apperrors.OCRStrategyUnavailable) {
		t.Errorf("err = %v, want OCR_STRATEGY_UNAVAILABLE", err)
	}
}

func TestDefaultTableOnlyAvailable(t *testing.T) {
	if testing.Short() {
		t.Skip("probes real OCR tools")
	}
	table := DefaultTable(context.Background(), TableConfig{WorkDir: t.TempDir()})
	for _, e := range table {
		if !e.Strategy.Available(context.Background()) {
			t.Errorf("%s selected but unavailable", e.Strategy.Name())
		}
		if e.Strategy.Name() == "gemini" {
			t.Error("gemini selected without an API key")
		}
	}
}

func TestVisionHelpersCreateWorkDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "ocr")

	py := NewPyObjC(dir)
	script, err := py.script()
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if script != filepath.Join(dir, "vision_ocr.py") {
		t.Errorf("script path = %q", script)
	}
	if b, err := os.ReadFile(script); err != nil || string(b) != pyobjcScript {
		t.Errorf("script contents not written: %v", err)
	}

	src, err := writeHelper(dir, "vision_ocr.m", objcSource)
	if err != nil {
		t.Fatalf("writeHelper: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("objc source missing: %v", err)
	}
}

func TestPyObjCScriptRetriesAfterWriteFailure(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "ocr")
	// A regular file where the directory should be blocks MkdirAll.
	if err := os.WriteFile(dir, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	py := NewPyObjC(dir)
	if _, err := py.script(); !apperrors.IsCode(err, apperrors.OCRStrategyUnavailable) {
		t.Fatalf("expected OCR_STRATEGY_UNAVAILABLE, got %v", err)
	}

	if err := os.Remove(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := py.script(); err != nil {
		t.Errorf("second attempt should succeed: %v", err)
	}
}
