// Package activity keeps a short history of capture and OCR events and fans
// them out to listeners.
package activity

import (
	"sync"
	"time"
	"unicode/utf8"
)

// Type names an event.
type Type string

const (
	CaptureSaved   Type = "capture_saved"
	CaptureSkipped Type = "capture_skipped"
	CaptureFailed  Type = "capture_failed"
	OCRCompleted   Type = "ocr_completed"
	OCRFailed      Type = "ocr_failed"
)

// PreviewRunes bounds the OCR text carried in events.
const PreviewRunes = 100

// Event is one pipeline occurrence.
type Event struct {
	Type       Type      `json:"type"`
	Time       time.Time `json:"time"`
	RecordID   int64     `json:"recordId,omitempty"`
	Path       string    `json:"path,omitempty"`
	Theme      string    `json:"theme,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Distance   int       `json:"distance,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Preview    string    `json:"preview,omitempty"`
	Manual     bool      `json:"manual,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Feed is a bounded in-memory event log plus a lossy event channel.
type Feed struct {
	mu       sync.RWMutex
	entries  []Event
	maxSize  int
	eventsCh chan Event
}

func NewFeed(maxEntries, eventBuffer int) *Feed {
	return &Feed{
		entries:  make([]Event, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Event, eventBuffer),
	}
}

// Add records ev, stamping the time if unset, and emits it.
func (f *Feed) Add(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	f.mu.Lock()
	f.entries = append(f.entries, ev)
	if len(f.entries) > f.maxSize {
		f.entries = f.entries[len(f.entries)-f.maxSize:]
	}
	f.mu.Unlock()

	f.Emit(ev)
}

// Recent returns up to n events, oldest first; n <= 0 returns all.
func (f *Feed) Recent(n int) []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	start := 0
	if n > 0 && n < len(f.entries) {
		start = len(f.entries) - n
	}
	out := make([]Event, len(f.entries)-start)
	copy(out, f.entries[start:])
	return out
}

// Since returns events newer than d.
func (f *Feed) Since(d time.Duration) []Event {
	cutoff := time.Now().Add(-d)
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Event
	for _, e := range f.entries {
		if e.Time.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Events returns the channel events are emitted on.
func (f *Feed) Events() <-chan Event {
	return f.eventsCh
}

// Emit sends ev without blocking; it is dropped if nobody keeps up.
func (f *Feed) Emit(ev Event) {
	select {
	case f.eventsCh <- ev:
	default:
	}
}

// Preview shortens text to PreviewRunes runes, marking the cut with "...".
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewRunes {
		return text
	}
	r := []rune(text)
	return string(r[:PreviewRunes]) + "..."
}
