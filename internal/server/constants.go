// Package server exposes the capture controls over HTTP, WebSocket and gRPC
// health.
package server

import "time"

// Server configuration constants
const (
	// Per-connection WebSocket rate limiting
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Bounds a single WebSocket write so a stuck client cannot stall a broadcast
	WSWriteTimeout = 5 * time.Second

	// Events replayed to a client right after it connects
	WSBacklogEvents = 20

	// Request body cap for JSON endpoints
	MaxBodyBytes = 1 << 20

	// OCRHealthService is the gRPC health service tracking OCR availability
	OCRHealthService = "screenlog.ocr"

	// How often the OCR health status is re-evaluated
	HealthRefreshInterval = time.Minute
)
