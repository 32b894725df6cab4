package capture

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/screenlog/internal/archive"
	"github.com/GriffinCanCode/screenlog/internal/config"
	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
	"github.com/GriffinCanCode/screenlog/internal/ocr"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator/activity"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator/dedup"
	"github.com/GriffinCanCode/screenlog/internal/queue"
	"github.com/GriffinCanCode/screenlog/internal/store"
	"github.com/GriffinCanCode/screenlog/internal/syncx"
	"github.com/GriffinCanCode/screenlog/internal/trace"
)

// Grabber acquires one frame of the screen as encoded image bytes.
type Grabber interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Writer stores accepted frames on disk.
type Writer interface {
	SaveImage(img image.Image, t time.Time, theme string, quality int) (archive.Saved, error)
	SaveRaw(data []byte, t time.Time, theme string) (archive.Saved, error)
}

// Recorder persists capture records.
type Recorder interface {
	SaveCapture(ctx context.Context, c store.Capture) (int64, error)
}

// Dispatcher queues OCR work without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job queue.Job) error
}

// Deps are the scheduler's collaborators. Feed may be nil.
type Deps struct {
	Grabber  Grabber
	Hasher   *dedup.Hasher
	Writer   Writer
	Recorder Recorder
	Jobs     Dispatcher
	Settings config.SettingsProvider
	Feed     *activity.Feed
}

// Status is the externally visible scheduler state.
type Status struct {
	Running   bool          `json:"running"`
	Theme     string        `json:"theme"`
	SessionID string        `json:"sessionId,omitempty"`
	StartedAt time.Time     `json:"startedAt,omitempty"`
	Interval  time.Duration `json:"interval,omitempty"`
	LastSaved time.Time     `json:"lastSaved,omitempty"`
	Accepted  uint64        `json:"accepted"`
}

// Outcome describes what one pass of the pipeline did.
type Outcome struct {
	Saved       bool           `json:"saved"`
	Reason      string         `json:"reason,omitempty"`
	RecordID    int64          `json:"recordId,omitempty"`
	Path        string         `json:"path,omitempty"`
	Theme       string         `json:"theme,omitempty"`
	Decision    dedup.Decision `json:"decision"`
	SampleIndex uint64         `json:"sampleIndex,omitempty"`
	OCRQueued   bool           `json:"ocrQueued"`
}

// Scheduler owns the capture loop. Start and Stop are serialised by ctlMu;
// every pass of the pipeline, timed or manual, runs under pipeMu, which is
// what makes the guard and sampler single-threaded.
type Scheduler struct {
	deps    Deps
	guard   *dedup.Guard
	sampler *ocr.Sampler
	status  *syncx.RWGuard[Status]
	now     func() time.Time

	ctlMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	pipeMu sync.Mutex
}

// New creates an idle scheduler.
func New(deps Deps) *Scheduler {
	return &Scheduler{
		deps:    deps,
		guard:   dedup.NewGuard(),
		sampler: &ocr.Sampler{},
		status:  syncx.NewGuard(Status{}),
		now:     time.Now,
	}
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	st := s.status.Get()
	st.Accepted = s.sampler.Count()
	return st
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool { return s.status.Get().Running }

// Start captures once immediately and then on every interval until Stop. A
// zero interval follows the capture interval setting, picking up changes on
// the next tick. It fails with SCHEDULER_RUNNING if a loop is active.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, theme string) error {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	if interval < 0 {
		return apperrors.Newf(apperrors.InvalidArgument, "negative interval %s", interval)
	}
	err := s.status.Transition(func(st *Status) error {
		if st.Running {
			return apperrors.New(apperrors.SchedulerRunning, "capture already running")
		}
		*st = Status{
			Running:   true,
			Theme:     theme,
			SessionID: uuid.NewString(),
			StartedAt: s.now(),
			Interval:  interval,
			LastSaved: st.LastSaved,
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.pipeMu.Lock()
	s.guard.Reset()
	s.pipeMu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	st := s.status.Get()
	trace.Logger(ctx).Info("capture started", "session", st.SessionID, "theme", theme, "interval", interval)
	go s.loop(loopCtx, interval, s.done)
	return nil
}

// Stop cancels the timer and waits for an in-flight tick to finish. Queued
// OCR jobs are left alone. It fails with SCHEDULER_IDLE if nothing runs.
func (s *Scheduler) Stop() error {
	s.ctlMu.Lock()
	err := s.status.Transition(func(st *Status) error {
		if !st.Running {
			return apperrors.New(apperrors.SchedulerIdle, "capture not running")
		}
		st.Running = false
		return nil
	})
	if err != nil {
		s.ctlMu.Unlock()
		return err
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.ctlMu.Unlock()

	cancel()
	<-done
	trace.Logger(context.Background()).Info("capture stopped", "accepted", s.sampler.Count())
	return nil
}

// CaptureOnce runs the pipeline once, whatever the loop state, bypassing the
// similarity check and OCR sampling. An empty theme falls back to the session
// theme, then to the theme setting. The session theme is never changed.
func (s *Scheduler) CaptureOnce(ctx context.Context, theme string) (Outcome, error) {
	if theme == "" {
		theme = s.status.Get().Theme
	}
	if theme == "" {
		theme = s.deps.Settings.Settings().Theme
	}
	return s.run(ctx, theme, true)
}

// ResetHistory forgets the reference fingerprint and restarts OCR sampling.
// Retention cleanup calls it after purging old captures.
func (s *Scheduler) ResetHistory() {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	s.guard.Reset()
	s.sampler.Reset()
}

func (s *Scheduler) loop(ctx context.Context, fixed time.Duration, done chan struct{}) {
	defer close(done)

	s.tick(ctx)

	interval := s.interval(fixed)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
			if fixed == 0 {
				if next := s.interval(0); next != interval {
					interval = next
					ticker.Reset(interval)
				}
			}
		}
	}
}

func (s *Scheduler) interval(fixed time.Duration) time.Duration {
	if fixed > 0 {
		return fixed
	}
	return s.deps.Settings.Settings().Interval()
}

// tick runs one timed pass. Errors are logged and swallowed so the loop
// keeps going.
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	st := s.status.Get()
	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), TickTimeout)
	defer cancel()

	if _, err := s.run(tickCtx, st.Theme, false); err != nil {
		trace.Logger(tickCtx).Warn("capture tick failed",
			"session", st.SessionID,
			"code", apperrors.CodeOf(err),
			"error", err,
		)
	}
}

// run is one pass of the pipeline: grab, fingerprint, compare, write,
// persist, maybe queue OCR.
func (s *Scheduler) run(ctx context.Context, theme string, manual bool) (Outcome, error) {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()

	ctx, span := trace.StartSpan(ctx, "capture.run")
	defer span.End()
	span.SetAttr("manual", manual)
	log := trace.Logger(ctx)

	set := s.deps.Settings.Settings()
	now := s.now()
	out := Outcome{Theme: theme}

	data, err := s.deps.Grabber.Capture(ctx)
	if err != nil {
		s.fail(theme, manual, err)
		span.SetAttr("decision", "capture_failed")
		return out, err
	}

	img, fp := s.fingerprint(ctx, data)

	if fp != nil && !manual && set.EnableSimilarityCheck {
		out.Decision = s.guard.Compare(fp, set.SimilarityThreshold)
		span.SetAttr("distance", out.Decision.Distance)
		span.SetAttr("similarity", out.Decision.Similarity)
		if !out.Decision.Accept {
			out.Reason = ReasonDuplicate
			span.SetAttr("decision", ReasonDuplicate)
			log.Debug("capture skipped", "reason", ReasonDuplicate,
				"distance", out.Decision.Distance, "similarity", out.Decision.Similarity)
			s.emit(activity.Event{
				Type:       activity.CaptureSkipped,
				Theme:      theme,
				Reason:     ReasonDuplicate,
				Distance:   out.Decision.Distance,
				Similarity: out.Decision.Similarity,
			})
			return out, nil
		}
	} else {
		out.Decision = dedup.Decision{Accept: true}
	}

	var saved archive.Saved
	if img != nil {
		saved, err = s.deps.Writer.SaveImage(img, now, theme, set.JPEGQuality)
	} else {
		saved, err = s.deps.Writer.SaveRaw(data, now, theme)
	}
	if archive.IsCollision(err) {
		out.Reason = ReasonCollision
		span.SetAttr("decision", ReasonCollision)
		log.Info("capture skipped", "reason", ReasonCollision)
		s.emit(activity.Event{Type: activity.CaptureSkipped, Theme: theme, Reason: ReasonCollision, Manual: manual})
		return out, nil
	}
	if err != nil {
		s.fail(theme, manual, err)
		span.SetAttr("decision", "write_failed")
		return out, err
	}
	if fp != nil {
		s.guard.Record(fp)
	}

	id, err := s.deps.Recorder.SaveCapture(ctx, store.Capture{
		Filename:   saved.Filename,
		Path:       saved.Path,
		CapturedAt: saved.CapturedAt,
		Theme:      saved.Theme,
		FileSize:   saved.Size,
	})
	if err != nil {
		err = apperrors.Wrap(err, apperrors.PersistenceWrite, "record capture").
			WithMetadata("path", saved.Path)
		s.fail(theme, manual, err)
		span.SetAttr("decision", "persist_failed")
		return out, err
	}

	out.Saved = true
	out.RecordID = id
	out.Path = saved.Path
	span.SetAttr("decision", "saved")
	span.SetAttr("record_id", id)
	s.status.Write(func(st *Status) { st.LastSaved = now })

	// Manual captures always get one OCR attempt and leave the counter alone.
	due := manual
	if !manual {
		out.SampleIndex, due = s.sampler.Next(set.OCRSampleEvery)
	}
	if due && set.EnableOCR {
		out.OCRQueued = s.queueOCR(ctx, out, manual)
	}

	log.Info("capture saved",
		"record_id", id,
		"path", saved.Path,
		"distance", out.Decision.Distance,
		"sample_index", out.SampleIndex,
		"ocr", out.OCRQueued,
	)
	s.emit(activity.Event{
		Type:       activity.CaptureSaved,
		RecordID:   id,
		Path:       saved.Path,
		Theme:      saved.Theme,
		Distance:   out.Decision.Distance,
		Similarity: out.Decision.Similarity,
		Manual:     manual,
	})
	return out, nil
}

// fingerprint decodes and hashes a frame. On failure both results are nil
// and the frame is kept as is.
func (s *Scheduler) fingerprint(ctx context.Context, data []byte) (image.Image, *goimagehash.ImageHash) {
	img, _, err := dedup.Decode(data)
	if err != nil {
		trace.Logger(ctx).Warn("capture not decodable, keeping it unchecked", "error", err)
		return nil, nil
	}
	fp, err := s.deps.Hasher.Fingerprint(img)
	if err != nil {
		trace.Logger(ctx).Warn("capture not hashable, keeping it unchecked", "error", err)
		return img, nil
	}
	return img, fp
}

func (s *Scheduler) queueOCR(ctx context.Context, out Outcome, manual bool) bool {
	tc, _ := trace.FromContext(ctx)
	job := queue.Job{
		RecordID:    out.RecordID,
		Path:        out.Path,
		SampleIndex: out.SampleIndex,
		Manual:      manual,
		TraceID:     tc.TraceID,
	}
	if err := s.deps.Jobs.Dispatch(ctx, job); err != nil {
		trace.Logger(ctx).Warn("ocr dispatch failed", "record_id", out.RecordID, "error", err)
		return false
	}
	return true
}

func (s *Scheduler) fail(theme string, manual bool, err error) {
	s.emit(activity.Event{
		Type:   activity.CaptureFailed,
		Theme:  theme,
		Reason: string(apperrors.CodeOf(err)),
		Manual: manual,
		Error:  err.Error(),
	})
}

func (s *Scheduler) emit(ev activity.Event) {
	if s.deps.Feed != nil {
		s.deps.Feed.Add(ev)
	}
}
