// Package orchestrator wires the capture scheduler, OCR and storage into the
// operations the host exposes.
package orchestrator

import "time"

// Manager configuration constants
const (
	// Activity feed sizing
	FeedMaxEntries  = 200
	FeedEventBuffer = 100

	// How often expired captures are purged while the process runs
	RetentionInterval = 24 * time.Hour

	// Recent returns at most this many events when asked for fewer than one
	DefaultRecentEvents = 50
)
