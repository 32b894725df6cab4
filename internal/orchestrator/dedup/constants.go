package dedup

// Fingerprint geometry
const (
	// GridSize is the side of the downsampled luminance grid.
	GridSize = 8

	// Bits is the fingerprint length.
	Bits = GridSize * GridSize
)
