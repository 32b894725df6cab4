package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
	"github.com/GriffinCanCode/screenlog/internal/resilience"
	"github.com/GriffinCanCode/screenlog/internal/trace"
)

// Result is a successful extraction.
type Result struct {
	Text     string
	Strategy string
	Attempts []Attempt
}

// Attempt records one strategy invocation.
type Attempt struct {
	Strategy string
	Duration time.Duration
	Err      error
}

type entry struct {
	Strategy
	timeout time.Duration
	breaker *resilience.Breaker
}

// Pipeline runs strategies strictly in order until one returns text.
type Pipeline struct {
	entries []*entry
}

// NewPipeline builds a pipeline over entries in priority order. Each strategy
// gets its own circuit breaker so a backend that keeps failing is skipped for
// a while.
func NewPipeline(entries ...Entry) *Pipeline {
	p := &Pipeline{}
	for _, e := range entries {
		if e.Strategy == nil {
			continue
		}
		timeout := e.Timeout
		if timeout <= 0 {
			timeout = DefaultStrategyTimeout
		}
		p.entries = append(p.entries, &entry{
			Strategy: e.Strategy,
			timeout:  timeout,
			breaker:  resilience.New("ocr."+e.Strategy.Name(), resilience.StrategyConfig()),
		})
	}
	return p
}

// Strategies lists strategy names in priority order.
func (p *Pipeline) Strategies() []string {
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.Name()
	}
	return names
}

// IsAvailable reports whether any strategy can run. It never extracts.
func (p *Pipeline) IsAvailable(ctx context.Context) bool {
	for _, e := range p.entries {
		if e.Available(ctx) {
			return true
		}
	}
	return false
}

// Extract runs the table against the image at path. total bounds the whole
// run when positive. Exhaustion returns an OCR_ALL_FAILED error together with
// the attempts made.
func (p *Pipeline) Extract(ctx context.Context, path string, total time.Duration) (Result, error) {
	if total > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, total)
		defer cancel()
	}
	ctx, span := trace.StartSpan(ctx, "ocr.extract")
	defer span.End()
	log := trace.Logger(ctx).With("path", path)

	var res Result
	for _, e := range p.entries {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		text, err := p.try(ctx, e, path)
		res.Attempts = append(res.Attempts, Attempt{Strategy: e.Name(), Duration: time.Since(start), Err: err})

		if err == nil {
			res.Text, res.Strategy = text, e.Name()
			span.SetAttr("strategy", e.Name())
			span.SetAttr("attempts", len(res.Attempts))
			log.Info("ocr succeeded", "strategy", e.Name(), "chars", len(text), "duration", time.Since(start))
			return res, nil
		}
		if apperrors.IsCode(err, apperrors.OCRStrategyUnavailable) {
			log.Debug("ocr strategy skipped", "strategy", e.Name(), "error", err)
			continue
		}
		log.Warn("ocr strategy failed", "strategy", e.Name(), "code", apperrors.CodeOf(err), "error", err)
	}

	span.SetAttr("attempts", len(res.Attempts))
	err := apperrors.Newf(apperrors.OCRAllFailed, "no OCR strategy produced text after %d attempts", len(res.Attempts))
	if ctx.Err() != nil {
		err.Cause = ctx.Err()
	}
	return res, err
}

type outcome struct {
	text string
	err  error
}

func (p *Pipeline) try(ctx context.Context, e *entry, path string) (string, error) {
	if err := e.breaker.Allow(); err != nil {
		return "", apperrors.Wrap(err, apperrors.OCRStrategyUnavailable, e.Name()+" suspended after repeated failures")
	}

	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: apperrors.Newf(apperrors.OCRStrategyCrash, "%s panicked: %v", e.Name(), r)}
			}
		}()
		text, err := e.Extract(sctx, path)
		done <- outcome{text: text, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-sctx.Done():
		out.err = sctx.Err()
	}

	text, err := classify(e, sctx, out)
	switch {
	case ctx.Err() != nil:
		// The caller gave up; say nothing about the strategy's health.
	case err == nil, apperrors.IsCode(err, apperrors.OCRStrategyEmpty):
		e.breaker.Success()
	default:
		e.breaker.Failure()
	}
	return text, err
}

func classify(e *entry, sctx context.Context, out outcome) (string, error) {
	if out.err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return "", apperrors.Wrapf(out.err, apperrors.OCRStrategyTimeout, "%s timed out after %s", e.Name(), e.timeout)
		}
		switch apperrors.CodeOf(out.err) {
		case apperrors.OCRStrategyTimeout, apperrors.OCRStrategyCrash,
			apperrors.OCRStrategyEmpty, apperrors.OCRStrategyUnavailable:
			return "", out.err
		}
		return "", apperrors.Wrap(out.err, apperrors.OCRStrategyCrash, e.Name()+" failed")
	}

	text := Normalize(out.text)
	if text == "" {
		return "", apperrors.New(apperrors.OCRStrategyEmpty, fmt.Sprintf("%s returned no text", e.Name()))
	}
	return text, nil
}

// Close releases resources held by strategies.
func (p *Pipeline) Close() error {
	var errs []error
	for _, e := range p.entries {
		if c, ok := e.Strategy.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
