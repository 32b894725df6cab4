package orchestrator

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/GriffinCanCode/screenlog/internal/archive"
	"github.com/GriffinCanCode/screenlog/internal/config"
	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
	"github.com/GriffinCanCode/screenlog/internal/ocr"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator/activity"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator/capture"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator/dedup"
	"github.com/GriffinCanCode/screenlog/internal/queue"
	"github.com/GriffinCanCode/screenlog/internal/store"
	"github.com/GriffinCanCode/screenlog/internal/trace"
)

// Extractor runs OCR over an image file.
type Extractor interface {
	Extract(ctx context.Context, path string, total time.Duration) (ocr.Result, error)
	IsAvailable(ctx context.Context) bool
	Strategies() []string
}

// Repository is the persistence the manager needs.
type Repository interface {
	capture.Recorder
	UpdateText(ctx context.Context, id int64, text string) error
	Get(ctx context.Context, id int64) (store.Capture, error)
	Statistics(ctx context.Context, now time.Time) (store.Statistics, error)
	Search(ctx context.Context, q store.Query) ([]store.Capture, error)
	Themes(ctx context.Context) ([]store.Theme, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DispatcherFactory builds the OCR job queue around the manager's handler.
type DispatcherFactory func(queue.Handler) (queue.Dispatcher, error)

// Options configures a Manager.
type Options struct {
	Grabber    capture.Grabber
	Hasher     *dedup.Hasher
	Archive    *archive.Archive
	Store      Repository
	OCR        Extractor
	Settings   config.SettingsStore
	Dispatcher DispatcherFactory
	// OCRTimeout bounds a whole extraction; zero leaves only the per-strategy
	// timeouts.
	OCRTimeout time.Duration
}

// CleanupReport summarises one retention pass.
type CleanupReport struct {
	archive.CleanupResult
	DeletedRecords int64     `json:"deletedRecords"`
	Cutoff         time.Time `json:"cutoff"`
}

// Extraction is the result of a direct OCR request.
type Extraction struct {
	Text     string `json:"text"`
	Strategy string `json:"strategy,omitempty"`
	Attempts int    `json:"attempts"`
}

// Manager coordinates capture, OCR and retention.
type Manager struct {
	archive    *archive.Archive
	store      Repository
	ocr        Extractor
	settings   config.SettingsStore
	jobs       queue.Dispatcher
	feed       *activity.Feed
	scheduler  *capture.Scheduler
	ocrTimeout time.Duration
	now        func() time.Time
}

// New creates a manager and its OCR queue.
func New(opts Options) (*Manager, error) {
	m := &Manager{
		archive:    opts.Archive,
		store:      opts.Store,
		ocr:        opts.OCR,
		settings:   opts.Settings,
		feed:       activity.NewFeed(FeedMaxEntries, FeedEventBuffer),
		ocrTimeout: opts.OCRTimeout,
		now:        time.Now,
	}

	factory := opts.Dispatcher
	if factory == nil {
		factory = func(h queue.Handler) (queue.Dispatcher, error) {
			return queue.NewLocal(queue.DefaultConcurrency, h), nil
		}
	}
	jobs, err := factory(m.handleOCR)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "create OCR queue")
	}
	m.jobs = jobs

	m.scheduler = capture.New(capture.Deps{
		Grabber:  opts.Grabber,
		Hasher:   opts.Hasher,
		Writer:   opts.Archive,
		Recorder: opts.Store,
		Jobs:     jobs,
		Settings: opts.Settings,
		Feed:     m.feed,
	})
	return m, nil
}

// Start begins periodic capture. intervalSeconds <= 0 follows the capture
// interval setting; an empty theme uses the theme setting.
func (m *Manager) Start(ctx context.Context, intervalSeconds int, theme string) error {
	if theme == "" {
		theme = m.settings.Settings().Theme
	}
	var interval time.Duration
	if intervalSeconds > 0 {
		if intervalSeconds < config.MinCaptureInterval || intervalSeconds > config.MaxCaptureInterval {
			return apperrors.Newf(apperrors.InvalidArgument, "interval %ds outside [%d, %d]",
				intervalSeconds, config.MinCaptureInterval, config.MaxCaptureInterval)
		}
		interval = time.Duration(intervalSeconds) * time.Second
	}
	return m.scheduler.Start(ctx, interval, theme)
}

// Stop ends periodic capture.
func (m *Manager) Stop() error {
	return m.scheduler.Stop()
}

// CaptureOnce takes one deliberate capture.
func (m *Manager) CaptureOnce(ctx context.Context, theme string) (capture.Outcome, error) {
	return m.scheduler.CaptureOnce(ctx, theme)
}

// Status reports the scheduler state.
func (m *Manager) Status() capture.Status {
	return m.scheduler.Status()
}

// ExtractText runs OCR synchronously on an image inside the screenshots
// directory. Relative paths are resolved against it.
func (m *Manager) ExtractText(ctx context.Context, path string) (Extraction, error) {
	if path == "" {
		return Extraction{}, apperrors.New(apperrors.InvalidArgument, "path is required")
	}
	path, err := m.archive.Resolve(path)
	if err != nil {
		return Extraction{}, err
	}

	res, err := m.ocr.Extract(ctx, path, m.ocrTimeout)
	out := Extraction{Text: res.Text, Strategy: res.Strategy, Attempts: len(res.Attempts)}
	return out, err
}

// Reextract queues a fresh OCR attempt for a stored capture.
func (m *Manager) Reextract(ctx context.Context, id int64) error {
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	tc, _ := trace.FromContext(ctx)
	return m.jobs.Dispatch(ctx, queue.Job{RecordID: c.ID, Path: c.Path, Manual: true, TraceID: tc.TraceID})
}

// IsOCRAvailable reports whether any OCR strategy can run here.
func (m *Manager) IsOCRAvailable(ctx context.Context) bool {
	return m.ocr.IsAvailable(ctx)
}

// OCRStrategies lists the configured strategies in priority order.
func (m *Manager) OCRStrategies() []string {
	return m.ocr.Strategies()
}

// Statistics summarises stored captures.
func (m *Manager) Statistics(ctx context.Context) (store.Statistics, error) {
	return m.store.Statistics(ctx, m.now())
}

// Search finds stored captures.
func (m *Manager) Search(ctx context.Context, q store.Query) ([]store.Capture, error) {
	return m.store.Search(ctx, q)
}

// Themes lists themes by recent use.
func (m *Manager) Themes(ctx context.Context) ([]store.Theme, error) {
	return m.store.Themes(ctx)
}

// Settings returns the current runtime settings.
func (m *Manager) Settings() config.Settings {
	return m.settings.Settings()
}

// UpdateSettings validates and stores s, returning what was stored.
func (m *Manager) UpdateSettings(s config.Settings) (config.Settings, error) {
	if err := m.settings.Update(s.Validate()); err != nil {
		return config.Settings{}, apperrors.Wrap(err, apperrors.ConfigInvalid, "update settings")
	}
	return m.settings.Settings(), nil
}

// Events streams activity as it happens.
func (m *Manager) Events() <-chan activity.Event {
	return m.feed.Events()
}

// Recent returns up to n recent events, oldest first.
func (m *Manager) Recent(n int) []activity.Event {
	if n <= 0 {
		n = DefaultRecentEvents
	}
	return m.feed.Recent(n)
}

// Cleanup removes captures older than the retention setting from disk and
// the database, then restarts duplicate and sampling history.
func (m *Manager) Cleanup(ctx context.Context) (CleanupReport, error) {
	ctx, span := trace.StartSpan(ctx, "retention.cleanup")
	defer span.End()
	log := trace.Logger(ctx)

	now := m.now()
	days := m.settings.Settings().RetentionDays
	report := CleanupReport{Cutoff: archive.Cutoff(now, days)}

	res, fileErr := m.archive.Cleanup(now, days)
	report.CleanupResult = res

	n, dbErr := m.store.DeleteOlderThan(ctx, report.Cutoff)
	report.DeletedRecords = n

	m.scheduler.ResetHistory()

	span.SetAttr("files", res.DeletedFiles)
	span.SetAttr("records", n)
	log.Info("retention cleanup",
		"cutoff", report.Cutoff.Format(archive.DayFormat),
		"files", res.DeletedFiles,
		"bytes", res.DeletedBytes,
		"records", n,
	)
	if err := errors.Join(fileErr, dbErr); err != nil {
		log.Warn("retention cleanup incomplete", "error", err)
		return report, apperrors.Wrap(err, apperrors.PersistenceWrite, "retention cleanup")
	}
	return report, nil
}

// RunRetention cleans up once immediately and then every RetentionInterval
// until ctx is done.
func (m *Manager) RunRetention(ctx context.Context) {
	ticker := time.NewTicker(RetentionInterval)
	defer ticker.Stop()

	for {
		_, _ = m.Cleanup(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops capture, drains the OCR queue and releases OCR resources.
func (m *Manager) Close() error {
	var errs []error
	if m.scheduler.Running() {
		if err := m.scheduler.Stop(); err != nil && !apperrors.IsCode(err, apperrors.SchedulerIdle) {
			errs = append(errs, err)
		}
	}
	if err := m.jobs.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := m.ocr.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleOCR extracts text for one queued capture and stores it. Exhausting
// every strategy leaves the record without text and is not an error.
func (m *Manager) handleOCR(ctx context.Context, job queue.Job) error {
	ctx, span := trace.StartSpan(ctx, "ocr.job")
	defer span.End()
	span.SetAttr("record_id", job.RecordID)
	span.SetAttr("manual", job.Manual)
	log := trace.Logger(ctx).With("record_id", job.RecordID, "path", job.Path)

	res, err := m.ocr.Extract(ctx, job.Path, m.ocrTimeout)
	if err != nil {
		span.SetAttr("error", err.Error())
		log.Warn("no text extracted", "attempts", len(res.Attempts), "error", err)
		m.feed.Add(activity.Event{
			Type:     activity.OCRFailed,
			RecordID: job.RecordID,
			Path:     job.Path,
			Manual:   job.Manual,
			Error:    err.Error(),
		})
		return nil
	}

	if err := m.store.UpdateText(ctx, job.RecordID, res.Text); err != nil {
		log.Error("store OCR text", "error", err)
		m.feed.Add(activity.Event{
			Type:     activity.OCRFailed,
			RecordID: job.RecordID,
			Path:     job.Path,
			Strategy: res.Strategy,
			Manual:   job.Manual,
			Error:    err.Error(),
		})
		return err
	}

	span.SetAttr("strategy", res.Strategy)
	m.feed.Add(activity.Event{
		Type:     activity.OCRCompleted,
		RecordID: job.RecordID,
		Path:     job.Path,
		Strategy: res.Strategy,
		Preview:  activity.Preview(res.Text),
		Manual:   job.Manual,
	})
	return nil
}
