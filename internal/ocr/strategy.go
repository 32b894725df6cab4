// Package ocr extracts text from capture files through an ordered table of
// OCR backends, falling back from one to the next.
package ocr

import (
	"context"
	"sync"
	"time"
)

// Per-strategy timeouts, roughly proportional to backend cost.
const (
	ShortcutsTimeout = 20 * time.Second
	PyObjCTimeout    = 30 * time.Second
	ObjCTimeout      = 45 * time.Second
	WindowsTimeout   = 30 * time.Second
	TesseractTimeout = 30 * time.Second
	GeminiTimeout    = 60 * time.Second
	CommandTimeout   = 30 * time.Second

	DefaultStrategyTimeout = 30 * time.Second

	probeTimeout = 5 * time.Second
)

// Strategy is one OCR backend.
type Strategy interface {
	Name() string
	// Available reports whether the backend can run here. It must not
	// perform an extraction.
	Available(ctx context.Context) bool
	// Extract returns the raw text found in the image at path.
	Extract(ctx context.Context, path string) (string, error)
}

// Entry registers a strategy in the table with its time budget.
type Entry struct {
	Strategy Strategy
	Timeout  time.Duration
}

// probe caches a capability check for the process lifetime.
type probe struct {
	once sync.Once
	ok   bool
	fn   func(ctx context.Context) bool
}

func newProbe(fn func(ctx context.Context) bool) *probe {
	return &probe{fn: fn}
}

func (p *probe) check(ctx context.Context) bool {
	p.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		p.ok = p.fn(ctx)
	})
	return p.ok
}
