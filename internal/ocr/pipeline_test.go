package ocr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// mockStrategy is a scripted Strategy.
type mockStrategy struct {
	name      string
	text      string
	err       error
	block     bool // wait for ctx cancellation
	panicMsg  string
	available bool
	calls     atomic.Int32
}

func (m *mockStrategy) Name() string                   { return m.name }
func (m *mockStrategy) Available(context.Context) bool { return m.available }

func (m *mockStrategy) Extract(ctx context.Context, _ string) (string, error) {
	m.calls.Add(1)
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.text, m.err
}

func TestPipelineFallback(t *testing.T) {
	a := &mockStrategy{name: "A", err: errors.New("exit status 1")}
	b := &mockStrategy{name: "B", block: true}
	c := &mockStrategy{name: "C", text: "hello"}

	p := NewPipeline(
		Entry{Strategy: a, Timeout: time.Second},
		Entry{Strategy: b, Timeout: 50 * time.Millisecond},
		Entry{Strategy: c, Timeout: time.Second},
	)

	res, err := p.Extract(context.Background(), "/tmp/x.jpg", 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "hello" || res.Strategy != "C" {
		t.Errorf("result = {%q, %q}, want {hello, C}", res.Text, res.Strategy)
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(res.Attempts))
	}
	if !apperrors.IsCode(res.Attempts[0].Err, apperrors.OCRStrategyCrash) {
		t.Errorf("A error = %v, want OCR_STRATEGY_CRASH", res.Attempts[0].Err)
	}
	if !apperrors.IsCode(res.Attempts[1].Err, apperrors.OCRStrategyTimeout) {
		t.Errorf("B error = %v, want OCR_STRATEGY_TIMEOUT", res.Attempts[1].Err)
	}
}

func TestPipelineStopsAtFirstSuccess(t *testing.T) {
	first := &mockStrategy{name: "first", text: "  found\r\n"}
	second := &mockStrategy{name: "second", text: "unused"}

	res, err := NewPipeline(Entry{Strategy: first}, Entry{Strategy: second}).
		Extract(context.Background(), "x", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "found" {
		t.Errorf("text = %q, want normalised %q", res.Text, "found")
	}
	if second.calls.Load() != 0 {
		t.Error("strategies after a success must not run")
	}
}

func TestPipelineAllFailed(t *testing.T) {
	p := NewPipeline(
		Entry{Strategy: &mockStrategy{name: "err", err: errors.New("boom")}},
		Entry{Strategy: &mockStrategy{name: "empty", text: " \n\r\n "}},
		Entry{Strategy: &mockStrategy{name: "panic", panicMsg: "nil map"}},
	)

	res, err := p.Extract(context.Background(), "x", 0)
	if !apperrors.IsCode(err, apperrors.OCRAllFailed) {
		t.Fatalf("err = %v, want OCR_ALL_FAILED", err)
	}
	want := []apperrors.Code{apperrors.OCRStrategyCrash, apperrors.OCRStrategyEmpty, apperrors.OCRStrategyCrash}
	for i, code := range want {
		if got := apperrors.CodeOf(res.Attempts[i].Err); got != code {
			t.Errorf("attempt %d code = %s, want %s", i, got, code)
		}
	}
}

func TestPipelineEmptyTable(t *testing.T) {
	p := NewPipeline()
	if p.IsAvailable(context.Background()) {
		t.Error("empty pipeline should be unavailable")
	}
	if _, err := p.Extract(context.Background(), "x", 0); !apperrors.IsCode(err, apperrors.OCRAllFailed) {
		t.Errorf("err = %v, want OCR_ALL_FAILED", err)
	}
}

func TestPipelineTotalDeadline(t *testing.T) {
	slow := &mockStrategy{name: "slow", block: true}
	never := &mockStrategy{name: "never", text: "late"}
	p := NewPipeline(Entry{Strategy: slow, Timeout: time.Minute}, Entry{Strategy: never})

	start := time.Now()
	_, err := p.Extract(context.Background(), "x", 50*time.Millisecond)
	if !apperrors.IsCode(err, apperrors.OCRAllFailed) {
		t.Fatalf("err = %v, want OCR_ALL_FAILED", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("total deadline not honoured")
	}
	if never.calls.Load() != 0 {
		t.Error("no strategy should start after the total deadline")
	}
}

func TestPipelineBreakerSkipsFailingStrategy(t *testing.T) {
	bad := &mockStrategy{name: "bad", err: errors.New("missing shortcut")}
	good := &mockStrategy{name: "good", text: "ok"}
	p := NewPipeline(Entry{Strategy: bad}, Entry{Strategy: good})

	for i := 0; i < 5; i++ {
		if _, err := p.Extract(context.Background(), "x", 0); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	// StrategyThreshold failures open the breaker; later runs skip it.
	if got := bad.calls.Load(); got != 3 {
		t.Errorf("failing strategy called %d times, want 3", got)
	}
	if got := good.calls.Load(); got != 5 {
		t.Errorf("fallback strategy called %d times, want 5", got)
	}
}

func TestPipelineEmptyResultKeepsBreakerClosed(t *testing.T) {
	blank := &mockStrategy{name: "blank", text: ""}
	p := NewPipeline(Entry{Strategy: blank})

	for i := 0; i < 5; i++ {
		p.Extract(context.Background(), "x", 0)
	}
	if got := blank.calls.Load(); got != 5 {
		t.Errorf("blank strategy called %d times, want 5", got)
	}
}

func TestPipelineIsAvailable(t *testing.T) {
	p := NewPipeline(
		Entry{Strategy: &mockStrategy{name: "a"}},
		Entry{Strategy: &mockStrategy{name: "b", available: true}},
	)
	if !p.IsAvailable(context.Background()) {
		t.Error("pipeline with an available strategy should be available")
	}
	if got := p.Strategies(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Strategies() = %v", got)
	}
}

func TestPipelineKeepsStrategyErrorCodes(t *testing.T) {
	unavailable := &mockStrategy{name: "u", err: apperrors.New(apperrors.OCRStrategyUnavailable, "no key")}
	res, _ := NewPipeline(Entry{Strategy: unavailable}).Extract(context.Background(), "x", 0)
	if !apperrors.IsCode(res.Attempts[0].Err, apperrors.OCRStrategyUnavailable) {
		t.Errorf("err = %v, want OCR_STRATEGY_UNAVAILABLE preserved", res.Attempts[0].Err)
	}
}
