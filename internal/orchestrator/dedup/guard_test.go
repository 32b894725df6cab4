package dedup

import (
	"math/bits"
	"testing"
	"time"

	"github.com/corona10/goimagehash"
)

func fp(v uint64) *goimagehash.ImageHash {
	return goimagehash.NewImageHash(v, goimagehash.AHash)
}

// flip returns base with the lowest n bits inverted.
func flip(base uint64, n int) uint64 {
	if n >= 64 {
		return ^base
	}
	return base ^ (1<<uint(n) - 1)
}

func TestGuardBootstrapAccepts(t *testing.T) {
	g := NewGuard()
	d := g.Decide(fp(0xDEADBEEF), 98)

	if !d.Accept || !d.First {
		t.Errorf("first decision = %+v, want accept/first", d)
	}
	if g.Last() == nil || g.LastAcceptedAt().IsZero() {
		t.Error("first accept should store the reference")
	}
}

func TestGuardRejectsExactRepeat(t *testing.T) {
	for _, threshold := range []float64{0, 50, 98, 99.9} {
		g := NewGuard()
		g.Decide(fp(0xABCD), threshold)

		d := g.Decide(fp(0xABCD), threshold)
		if d.Accept {
			t.Errorf("threshold %v: exact repeat accepted", threshold)
		}
		if d.Distance != 0 || d.Similarity != 100 {
			t.Errorf("threshold %v: decision = %+v, want distance 0 similarity 100", threshold, d)
		}
	}
}

func TestGuardThresholdHundredNeverRejects(t *testing.T) {
	g := NewGuard()
	g.Decide(fp(0x1234), 100)

	for n := 0; n <= 64; n += 8 {
		if d := g.Decide(fp(flip(0x1234, n)), 100); !d.Accept {
			t.Errorf("distance %d rejected at threshold 100", n)
		}
	}
	if d := g.Decide(g.Last(), 100); !d.Accept {
		t.Error("exact repeat rejected at threshold 100")
	}
}

// At threshold 0 only a fully inverted frame (similarity 0%) is accepted.
func TestGuardThresholdZero(t *testing.T) {
	base := uint64(0x0F0F0F0F0F0F0F0F)
	tests := []struct {
		distance int
		accept   bool
	}{
		{0, false},
		{1, false},
		{32, false},
		{63, false},
		{64, true},
	}

	for _, tt := range tests {
		g := NewGuard()
		g.Decide(fp(base), 0)

		d := g.Compare(fp(flip(base, tt.distance)), 0)
		if d.Distance != tt.distance {
			t.Fatalf("distance = %d, want %d", d.Distance, tt.distance)
		}
		if d.Accept != tt.accept {
			t.Errorf("distance %d at threshold 0: accept = %v, want %v", tt.distance, d.Accept, tt.accept)
		}
	}
}

func TestGuardDefaultThreshold(t *testing.T) {
	base := uint64(0x00FF00FF00FF00FF)
	tests := []struct {
		distance int
		accept   bool
	}{
		{0, false},
		{1, false}, // 98.4375%
		{2, true},  // 96.875%
		{10, true},
		{64, true},
	}

	for _, tt := range tests {
		g := NewGuard()
		g.Decide(fp(base), 98)

		next := flip(base, tt.distance)
		if got := bits.OnesCount64(base ^ next); got != tt.distance {
			t.Fatalf("test setup: distance %d, want %d", got, tt.distance)
		}

		d := g.Decide(fp(next), 98)
		if d.Accept != tt.accept || d.Distance != tt.distance {
			t.Errorf("distance %d: decision = %+v, want accept=%v", tt.distance, d, tt.accept)
		}
	}
}

func TestGuardComparesAgainstLastAccepted(t *testing.T) {
	g := NewGuard()
	base := uint64(0)
	g.Decide(fp(base), 98)

	// Drift one bit at a time: each step is rejected, so the reference never
	// moves and the accumulated drift is eventually accepted.
	if d := g.Decide(fp(flip(base, 1)), 98); d.Accept {
		t.Fatal("1-bit drift should be rejected")
	}
	if d := g.Decide(fp(flip(base, 2)), 98); !d.Accept || d.Distance != 2 {
		t.Fatalf("2-bit drift from reference = %+v, want accept at distance 2", d)
	}
	if g.Last().GetHash() != flip(base, 2) {
		t.Error("accept should replace the reference")
	}
}

func TestGuardResetAndRecord(t *testing.T) {
	g := NewGuard()
	g.Decide(fp(7), 98)
	g.Reset()

	if g.Last() != nil || !g.LastAcceptedAt().IsZero() {
		t.Error("Reset should clear state")
	}
	if d := g.Decide(fp(7), 98); !d.First {
		t.Error("capture after Reset should be a bootstrap accept")
	}

	g.Record(fp(99))
	if g.Last().GetHash() != 99 {
		t.Error("Record should replace the reference")
	}
}

func TestGuardCompareDoesNotStore(t *testing.T) {
	g := NewGuard()
	if d := g.Compare(fp(1), 98); !d.Accept || !d.First {
		t.Fatalf("Compare on empty guard = %+v, want bootstrap accept", d)
	}
	if g.Last() != nil {
		t.Fatal("Compare must not store a reference")
	}

	g.Record(fp(1))
	if d := g.Compare(fp(flip(1, 8)), 98); !d.Accept || d.Distance != 8 {
		t.Errorf("Compare = %+v, want accept at distance 8", d)
	}
	if g.Last().GetHash() != 1 {
		t.Error("Compare replaced the reference")
	}
}

func TestGuardKindMismatchStartsOver(t *testing.T) {
	g := NewGuard()
	g.Decide(fp(1), 98)

	d := g.Decide(goimagehash.NewImageHash(1, goimagehash.PHash), 98)
	if !d.Accept || !d.First {
		t.Errorf("kind mismatch decision = %+v, want bootstrap accept", d)
	}
}

func TestGuardUsesClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := NewGuard()
	g.now = func() time.Time { return fixed }

	g.Decide(fp(1), 98)
	if !g.LastAcceptedAt().Equal(fixed) {
		t.Errorf("LastAcceptedAt = %v, want %v", g.LastAcceptedAt(), fixed)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		distance int
		want     float64
	}{
		{0, 100},
		{1, 98.4375},
		{32, 50},
		{64, 0},
	}
	for _, tt := range tests {
		if got := Similarity(tt.distance); got != tt.want {
			t.Errorf("Similarity(%d) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}
