package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestAppErrorMessage(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(cause, PersistenceWrite, "save capture").WithMetadata("path", "/tmp/a.jpg")

	msg := err.Error()
	for _, want := range []string{"[PERSISTENCE_WRITE]", "save capture", "/tmp/a.jpg", "disk full"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	base := New(CaptureTransient, "display locked")
	wrapped := fmt.Errorf("tick: %w", base)

	if !IsCode(wrapped, CaptureTransient) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if IsCode(wrapped, ImageDecode) {
		t.Error("IsCode matched the wrong code")
	}
	if CodeOf(stderrors.New("plain")) != Unknown {
		t.Error("CodeOf(plain error) should be Unknown")
	}
}

func TestSentinelMatching(t *testing.T) {
	sentinel := New(SchedulerRunning, "already running")
	err := fmt.Errorf("start: %w", New(SchedulerRunning, "already running"))

	if !stderrors.Is(err, sentinel) {
		t.Error("errors.Is should match by code and message")
	}
	if stderrors.Is(err, New(SchedulerIdle, "")) {
		t.Error("errors.Is matched a different code")
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		code     Code
		grpc     codes.Code
		httpCode int
	}{
		{SchedulerRunning, codes.FailedPrecondition, http.StatusConflict},
		{InvalidArgument, codes.InvalidArgument, http.StatusBadRequest},
		{OCRAllFailed, codes.NotFound, http.StatusNotFound},
		{Forbidden, codes.PermissionDenied, http.StatusForbidden},
		{OCRStrategyTimeout, codes.DeadlineExceeded, http.StatusGatewayTimeout},
		{PersistenceWrite, codes.Internal, http.StatusInternalServerError},
		{Code("SOMETHING_NEW"), codes.Unknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			e := New(tt.code, "x")
			if got := e.GRPCCode(); got != tt.grpc {
				t.Errorf("GRPCCode() = %v, want %v", got, tt.grpc)
			}
			if got := e.HTTPStatus(); got != tt.httpCode {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.httpCode)
			}
		})
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	orig := New(OCRStrategyUnavailable, "no engine").WithMetadata("strategy", "tesseract")
	st := orig.GRPCStatus()

	back := FromGRPCError(st.Err())
	if back.Code != OCRStrategyUnavailable {
		t.Errorf("Code = %s, want %s", back.Code, OCRStrategyUnavailable)
	}
	if back.Metadata["strategy"] != "tesseract" {
		t.Errorf("Metadata = %v", back.Metadata)
	}
}

func TestFromGRPCErrorFallback(t *testing.T) {
	back := FromGRPCError(status.Error(codes.Unavailable, "down"))
	if back.Code != Unavailable {
		t.Errorf("Code = %s, want %s", back.Code, Unavailable)
	}

	plain := FromGRPCError(stderrors.New("boom"))
	if plain.Code != Unknown {
		t.Errorf("Code = %s, want %s", plain.Code, Unknown)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(Unavailable, "x")) {
		t.Error("Unavailable should be retryable")
	}
	if IsRetryable(New(OCRAllFailed, "x")) {
		t.Error("OCRAllFailed should not be retryable")
	}
	if IsRetryable(stderrors.New("x")) {
		t.Error("plain errors should not be retryable")
	}
}
