package ocr

import "sync/atomic"

// Sampler selects every Nth accepted capture for OCR.
type Sampler struct {
	n atomic.Uint64
}

// Next counts one accepted capture and reports its 1-based index and whether
// it is due for OCR. every < 1 is treated as 1.
func (s *Sampler) Next(every int) (uint64, bool) {
	i := s.n.Add(1)
	if every < 1 {
		every = 1
	}
	return i, i%uint64(every) == 0
}

// Count returns the number of accepted captures seen since the last reset.
func (s *Sampler) Count() uint64 { return s.n.Load() }

// Reset restarts counting from zero.
func (s *Sampler) Reset() { s.n.Store(0) }
