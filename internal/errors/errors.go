// Package errors provides unified error handling with stable string codes.
// Codes map onto gRPC status codes for the health/control surface and onto
// HTTP statuses for the REST API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a class of failure.
type Code string

const (
	Unknown         Code = "UNKNOWN"
	Internal        Code = "INTERNAL"
	InvalidArgument Code = "INVALID_ARGUMENT"
	NotFound        Code = "NOT_FOUND"
	Forbidden       Code = "FORBIDDEN"
	Unavailable     Code = "UNAVAILABLE"
	Timeout         Code = "TIMEOUT"
	Cancelled       Code = "CANCELLED"

	CaptureTransient       Code = "CAPTURE_TRANSIENT"
	ImageDecode            Code = "IMAGE_DECODE"
	OCRStrategyTimeout     Code = "OCR_STRATEGY_TIMEOUT"
	OCRStrategyCrash       Code = "OCR_STRATEGY_CRASH"
	OCRStrategyEmpty       Code = "OCR_STRATEGY_EMPTY"
	OCRStrategyUnavailable Code = "OCR_STRATEGY_UNAVAILABLE"
	OCRAllFailed           Code = "OCR_ALL_FAILED"
	PersistenceWrite       Code = "PERSISTENCE_WRITE"
	SchedulerRunning       Code = "SCHEDULER_RUNNING"
	SchedulerIdle          Code = "SCHEDULER_IDLE"
	ConfigInvalid          Code = "CONFIG_INVALID"
)

// Domain is reported in gRPC ErrorInfo details.
const Domain = "screenlog"

var grpcCodeMap = map[Code]codes.Code{
	Unknown:                codes.Unknown,
	Internal:               codes.Internal,
	InvalidArgument:        codes.InvalidArgument,
	NotFound:               codes.NotFound,
	Forbidden:              codes.PermissionDenied,
	Unavailable:            codes.Unavailable,
	Timeout:                codes.DeadlineExceeded,
	Cancelled:              codes.Canceled,
	CaptureTransient:       codes.Unavailable,
	ImageDecode:            codes.InvalidArgument,
	OCRStrategyTimeout:     codes.DeadlineExceeded,
	OCRStrategyCrash:       codes.Internal,
	OCRStrategyEmpty:       codes.NotFound,
	OCRStrategyUnavailable: codes.Unavailable,
	OCRAllFailed:           codes.NotFound,
	PersistenceWrite:       codes.Internal,
	SchedulerRunning:       codes.FailedPrecondition,
	SchedulerIdle:          codes.FailedPrecondition,
	ConfigInvalid:          codes.InvalidArgument,
}

var httpStatusMap = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.NotFound:           http.StatusNotFound,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.Canceled:           499,
	codes.FailedPrecondition: http.StatusConflict,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another AppError by code, so sentinel values work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the HTTP status used by the REST surface.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatusMap[e.GRPCCode()]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns a gRPC status with an ErrorInfo detail attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	info := &errdetails.ErrorInfo{Reason: string(e.Code), Domain: Domain, Metadata: e.Metadata}
	if withDetails, err := st.WithDetails(info); err == nil {
		return withDetails
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError extracts AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return &AppError{Code: Code(info.GetReason()), Message: st.Message(), Metadata: info.GetMetadata()}
		}
	}
	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message()}
}

// grpcToCode maps gRPC codes back to our codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.NotFound:
		return NotFound
	case codes.PermissionDenied:
		return Forbidden
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	default:
		return Unknown
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or Unknown.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout, CaptureTransient:
		return true
	default:
		return false
	}
}
