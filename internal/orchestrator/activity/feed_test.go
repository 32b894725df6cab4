package activity

import (
	"strings"
	"testing"
	"time"
)

func TestFeedAdd(t *testing.T) {
	f := NewFeed(30, 10)
	f.Add(Event{Type: CaptureSaved, RecordID: 1, Path: "/a.jpg"})

	got := f.Recent(0)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Type != CaptureSaved || got[0].RecordID != 1 || got[0].Time.IsZero() {
		t.Errorf("unexpected event: %+v", got[0])
	}
}

func TestFeedMaxSize(t *testing.T) {
	f := NewFeed(5, 20)
	for i := 0; i < 10; i++ {
		f.Add(Event{Type: CaptureSkipped, RecordID: int64(i)})
	}

	got := f.Recent(0)
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	if got[0].RecordID != 5 || got[4].RecordID != 9 {
		t.Errorf("ring kept wrong events: first %d last %d", got[0].RecordID, got[4].RecordID)
	}
	if last := f.Recent(2); len(last) != 2 || last[1].RecordID != 9 {
		t.Errorf("Recent(2) = %+v", last)
	}
}

func TestFeedSince(t *testing.T) {
	f := NewFeed(10, 10)
	f.Add(Event{Type: OCRCompleted, Time: time.Now().Add(-5 * time.Minute)})
	f.Add(Event{Type: OCRFailed})

	got := f.Since(time.Minute)
	if len(got) != 1 || got[0].Type != OCRFailed {
		t.Errorf("Since = %+v", got)
	}
}

func TestFeedEmit(t *testing.T) {
	f := NewFeed(30, 10)
	go f.Add(Event{Type: CaptureFailed, Error: "no display"})

	select {
	case e := <-f.Events():
		if e.Type != CaptureFailed || e.Error != "no display" {
			t.Errorf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestFeedEmitNonBlocking(t *testing.T) {
	f := NewFeed(30, 1)
	f.Emit(Event{Type: CaptureSaved})
	f.Emit(Event{Type: CaptureSaved}) // buffer full, dropped

	if len(f.Events()) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(f.Events()))
	}
}

func TestPreview(t *testing.T) {
	short := "hello"
	if Preview(short) != short {
		t.Error("short text should be unchanged")
	}

	long := strings.Repeat("字", 150)
	p := Preview(long)
	if !strings.HasSuffix(p, "...") {
		t.Error("long preview should be marked")
	}
	if n := len([]rune(strings.TrimSuffix(p, "..."))); n != PreviewRunes {
		t.Errorf("preview has %d runes, want %d", n, PreviewRunes)
	}
}
