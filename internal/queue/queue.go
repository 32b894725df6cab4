// Package queue dispatches OCR jobs, either in-process or through Redis.
package queue

import (
	"context"
	"sync"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// Job asks for text extraction of one stored capture.
type Job struct {
	RecordID    int64  `json:"record_id"`
	Path        string `json:"path"`
	SampleIndex uint64 `json:"sample_index"`
	Manual      bool   `json:"manual,omitempty"`
	TraceID     string `json:"trace_id,omitempty"`
}

// Handler processes a job. Returned errors are logged, never retried.
type Handler func(ctx context.Context, job Job) error

// Dispatcher hands jobs to workers without waiting for them to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
	Close() error
}

// DefaultConcurrency applies when a non-positive worker count is given.
const DefaultConcurrency = 2

// Local runs jobs on goroutines bounded by a semaphore.
type Local struct {
	handler Handler
	sem     chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewLocal(concurrency int, handler Handler) *Local {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Local{handler: handler, sem: make(chan struct{}, concurrency)}
}

// Dispatch starts the job in the background. The job outlives ctx's
// cancellation but keeps its values.
func (l *Local) Dispatch(ctx context.Context, job Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return apperrors.New(apperrors.Unavailable, "dispatcher closed")
	}

	jobCtx := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.sem <- struct{}{}
		defer func() { <-l.sem }()
		_ = l.handler(jobCtx, job)
	}()
	return nil
}

// Close rejects new jobs and waits for running ones.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}
