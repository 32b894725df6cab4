package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/screenlog/internal/trace"
)

// OCRProbe reports whether text extraction can run.
type OCRProbe interface {
	IsOCRAvailable(ctx context.Context) bool
}

// Health serves grpc.health.v1. The overall service is SERVING while the
// process runs; OCRHealthService follows the OCR probe.
type Health struct {
	srv   *health.Server
	probe OCRProbe
}

// NewGRPC builds a gRPC server with the health service registered and the
// trace interceptors installed.
func NewGRPC(probe OCRProbe) (*grpc.Server, *Health) {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	h := &Health{srv: health.NewServer(), probe: probe}
	healthpb.RegisterHealthServer(gs, h.srv)
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return gs, h
}

// Refresh re-evaluates OCR availability.
func (h *Health) Refresh(ctx context.Context) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if h.probe.IsOCRAvailable(ctx) {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(OCRHealthService, st)
}

// Run refreshes OCR health every interval until ctx is done, then marks
// everything NOT_SERVING.
func (h *Health) Run(ctx context.Context, interval time.Duration) error {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return nil
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
