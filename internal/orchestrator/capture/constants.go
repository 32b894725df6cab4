// Package capture runs the periodic screen capture loop: grab, compare with
// the last kept frame, write, persist and hand sampled captures to OCR.
package capture

import "time"

const (
	// TickTimeout bounds one pass of the pipeline, capture tool included.
	TickTimeout = 30 * time.Second

	// Skip reasons reported in Outcome and activity events.
	ReasonDuplicate = "duplicate"
	ReasonCollision = "collision"
)
