package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
	"github.com/GriffinCanCode/screenlog/internal/trace"
)

// Task routing.
const (
	TypeOCRExtract = "ocr:extract"
	QueueName      = "ocr"
)

// Asynq enqueues jobs to Redis and consumes them with an embedded server.
type Asynq struct {
	client *asynq.Client
	server *asynq.Server
}

// NewAsynq connects to Redis at addr (host:port or redis:// URI) and starts
// consuming with handler.
func NewAsynq(addr string, concurrency int, handler Handler) (*Asynq, error) {
	opt, err := redisOpt(addr)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      slogAdapter{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Warn("ocr task failed", "type", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeOCRExtract, func(ctx context.Context, task *asynq.Task) error {
		job, err := decodeJob(task.Payload())
		if err != nil {
			return err
		}
		if job.TraceID != "" {
			tc := trace.New()
			tc.TraceID = job.TraceID
			ctx = trace.WithContext(ctx, tc)
		}
		return handler(ctx, job)
	})

	if err := server.Start(mux); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "start ocr queue consumer")
	}
	return &Asynq{client: asynq.NewClient(opt), server: server}, nil
}

// Dispatch enqueues the job. Sampled jobs are enqueued once per record and a
// duplicate is ignored.
func (a *Asynq) Dispatch(ctx context.Context, job Job) error {
	if tc, ok := trace.FromContext(ctx); ok && job.TraceID == "" {
		job.TraceID = tc.TraceID
	}
	task, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = a.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.TaskID(taskID(job)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		slog.Debug("ocr job already queued", "record_id", job.RecordID)
		return nil
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.Unavailable, "enqueue ocr job")
	}
	return nil
}

// Close stops the consumer, letting active jobs finish, then the client.
func (a *Asynq) Close() error {
	a.server.Shutdown()
	return a.client.Close()
}

// taskID dedupes sampled jobs per record. Manual jobs always get a fresh id
// so an archived earlier attempt cannot swallow a re-extraction.
func taskID(job Job) string {
	if job.Manual {
		return fmt.Sprintf("ocr:%d:manual:%s", job.RecordID, uuid.NewString())
	}
	return fmt.Sprintf("ocr:%d", job.RecordID)
}

func encodeJob(job Job) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "encode ocr job")
	}
	return asynq.NewTask(TypeOCRExtract, payload), nil
}

func decodeJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("decode ocr job: %v: %w", err, asynq.SkipRetry)
	}
	return job, nil
}

func redisOpt(addr string) (asynq.RedisConnOpt, error) {
	if strings.Contains(addr, "://") {
		opt, err := asynq.ParseRedisURI(addr)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "parse REDIS_ADDR")
		}
		return opt, nil
	}
	return asynq.RedisClientOpt{Addr: addr}, nil
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...any) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Info(args ...any)  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Error(args ...any) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Fatal(args ...any) {
	slog.Error(fmt.Sprint(args...), "component", "asynq", "fatal", true)
}
