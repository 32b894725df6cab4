package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// Retry configuration constants
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2

	// Cloud OCR calls run inside a strategy timeout, so keep the budget small.
	CloudMaxRetries = 2
	CloudBaseDelay  = time.Second
	CloudMaxDelay   = 8 * time.Second
)

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

// DefaultRetryConfig returns standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsTransient,
	}
}

// CloudRetryConfig returns settings for remote vision APIs. Callers normally
// replace IsRetryable with a classifier for the API's own error type.
func CloudRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   CloudMaxRetries,
		BaseDelay:    CloudBaseDelay,
		MaxDelay:     CloudMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsTransient,
	}
}

// IsTransient reports whether err looks worth retrying: retryable AppErrors and
// gRPC statuses that signal a temporary condition.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := apperrors.As(err); ok {
		return apperrors.IsRetryable(err)
	}
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// Retry executes fn with exponential backoff. Returns last error if all retries fail.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if !cfg.IsRetryable(lastErr) || attempt == cfg.MaxRetries {
			return lastErr
		}

		delay := backoffDelay(cfg, attempt)
		slog.Debug("retrying after error", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << min(attempt, 6)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsTransient
	}
	return c
}
