package dedup

import (
	"time"

	"github.com/corona10/goimagehash"
)

// Guard remembers the fingerprint of the last accepted capture. It is not
// safe for concurrent use; the capture scheduler serialises every call.
type Guard struct {
	last           *goimagehash.ImageHash
	lastAcceptedAt time.Time
	now            func() time.Time
}

// Decision is the outcome of comparing a capture with the last accepted one.
type Decision struct {
	Accept     bool
	Distance   int
	Similarity float64
	// First is set when there was nothing to compare against.
	First bool
}

func NewGuard() *Guard {
	return &Guard{now: time.Now}
}

// Similarity converts a Hamming distance into a percentage in [0, 100].
func Similarity(distance int) float64 {
	return float64(Bits-distance) / Bits * 100
}

// Decide compares fp with the stored fingerprint. A capture is rejected when
// its similarity exceeds threshold, so threshold 100 keeps everything. On
// accept fp becomes the new reference.
func (g *Guard) Decide(fp *goimagehash.ImageHash, threshold float64) Decision {
	d := g.Compare(fp, threshold)
	if d.Accept {
		g.store(fp)
	}
	return d
}

// Compare is Decide without the side effect. Callers that can still fail
// after accepting (a disk write, say) compare first and Record on success.
func (g *Guard) Compare(fp *goimagehash.ImageHash, threshold float64) Decision {
	if g.last == nil {
		return Decision{Accept: true, First: true}
	}

	dist, err := g.last.Distance(fp)
	if err != nil {
		// Different hash kinds: the reference is stale, start over.
		return Decision{Accept: true, First: true}
	}

	sim := Similarity(dist)
	return Decision{Accept: sim <= threshold, Distance: dist, Similarity: sim}
}

// Record makes fp the reference without a comparison, for captures that are
// kept regardless of similarity.
func (g *Guard) Record(fp *goimagehash.ImageHash) {
	g.store(fp)
}

// Reset forgets the reference so the next capture is accepted.
func (g *Guard) Reset() {
	g.last = nil
	g.lastAcceptedAt = time.Time{}
}

// LastAcceptedAt reports when the reference was stored; zero if none.
func (g *Guard) LastAcceptedAt() time.Time { return g.lastAcceptedAt }

// Last returns the current reference fingerprint, or nil.
func (g *Guard) Last() *goimagehash.ImageHash { return g.last }

func (g *Guard) store(fp *goimagehash.ImageHash) {
	g.last = fp
	g.lastAcceptedAt = g.now()
}
