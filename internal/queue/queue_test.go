package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
	"github.com/GriffinCanCode/screenlog/internal/trace"
)

func TestLocalRunsJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int64
	)
	l := NewLocal(2, func(_ context.Context, job Job) error {
		mu.Lock()
		seen = append(seen, job.RecordID)
		mu.Unlock()
		return nil
	})

	for i := int64(1); i <= 5; i++ {
		if err := l.Dispatch(context.Background(), Job{RecordID: i}); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	l.Close()

	if len(seen) != 5 {
		t.Errorf("ran %d jobs, want 5", len(seen))
	}
}

func TestLocalBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	l := NewLocal(2, func(context.Context, Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	})

	for i := 0; i < 6; i++ {
		l.Dispatch(context.Background(), Job{RecordID: int64(i)})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	l.Close()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestLocalSurvivesCancellation(t *testing.T) {
	done := make(chan error, 1)
	var traceID string
	l := NewLocal(1, func(ctx context.Context, _ Job) error {
		time.Sleep(20 * time.Millisecond)
		if tc, ok := trace.FromContext(ctx); ok {
			traceID = tc.TraceID
		}
		done <- ctx.Err()
		return nil
	})

	ctx, tc := trace.EnsureContext(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	l.Dispatch(ctx, Job{RecordID: 1})
	cancel()

	if err := <-done; err != nil {
		t.Errorf("job context cancelled with caller: %v", err)
	}
	l.Close()
	if traceID != tc.TraceID {
		t.Errorf("trace id = %q, want %q", traceID, tc.TraceID)
	}
}

func TestLocalRejectsAfterClose(t *testing.T) {
	l := NewLocal(1, func(context.Context, Job) error { return nil })
	l.Close()
	if err := l.Dispatch(context.Background(), Job{}); !apperrors.IsCode(err, apperrors.Unavailable) {
		t.Errorf("err = %v, want UNAVAILABLE", err)
	}
}

func TestJobCodec(t *testing.T) {
	job := Job{RecordID: 42, Path: "/x/100000.jpg", SampleIndex: 10, Manual: true, TraceID: "abc"}
	task, err := encodeJob(job)
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TypeOCRExtract {
		t.Errorf("type = %s", task.Type())
	}
	got, err := decodeJob(task.Payload())
	if err != nil || got != job {
		t.Errorf("decode = (%+v, %v)", got, err)
	}

	_, err = decodeJob([]byte("{"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("bad payload err = %v, want SkipRetry", err)
	}
}

func TestTaskID(t *testing.T) {
	sampled := Job{RecordID: 42, SampleIndex: 10}
	if got := taskID(sampled); got != "ocr:42" {
		t.Errorf("sampled taskID = %s", got)
	}
	if taskID(sampled) != taskID(sampled) {
		t.Error("sampled task ids should be stable")
	}

	manual := Job{RecordID: 42, Manual: true}
	a, b := taskID(manual), taskID(manual)
	if a == b {
		t.Errorf("manual task ids repeat: %s", a)
	}
	for _, id := range []string{a, b} {
		if id == taskID(sampled) || !strings.HasPrefix(id, "ocr:42:manual:") {
			t.Errorf("manual taskID = %s", id)
		}
	}
}

func TestRedisOpt(t *testing.T) {
	opt, err := redisOpt("localhost:6379")
	if err != nil {
		t.Fatal(err)
	}
	if c, ok := opt.(asynq.RedisClientOpt); !ok || c.Addr != "localhost:6379" {
		t.Errorf("opt = %#v", opt)
	}
	if _, err := redisOpt("redis://localhost:6379/2"); err != nil {
		t.Errorf("URI: %v", err)
	}
	if _, err := redisOpt("ftp://nope"); !apperrors.IsCode(err, apperrors.ConfigInvalid) {
		t.Errorf("bad scheme err = %v, want CONFIG_INVALID", err)
	}
}
