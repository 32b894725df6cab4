// Package dedup decides whether a fresh screen capture differs enough from
// the last kept one to be worth storing.
package dedup

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"  // BMP decoder (Windows captures)
	_ "golang.org/x/image/tiff" // TIFF decoder (macOS screencapture -t tiff)
	_ "golang.org/x/image/webp" // WebP decoder

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// Algorithm selects the fingerprint function.
type Algorithm string

const (
	// Average is the 8x8 mean-threshold hash.
	Average Algorithm = "average"
	// Perception is goimagehash's DCT-based pHash.
	Perception Algorithm = "perception"
	// Difference is goimagehash's gradient dHash.
	Difference Algorithm = "difference"
)

// ParseAlgorithm validates an algorithm name; empty selects Average.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case "", Average:
		return Average, nil
	case Perception, Difference:
		return a, nil
	default:
		return "", apperrors.Newf(apperrors.ConfigInvalid, "unknown hash algorithm %q", s)
	}
}

// Hasher turns images into 64-bit fingerprints. It has no state.
type Hasher struct {
	algo Algorithm
}

func NewHasher(algo Algorithm) *Hasher {
	if algo == "" {
		algo = Average
	}
	return &Hasher{algo: algo}
}

// Algorithm returns the configured algorithm.
func (h *Hasher) Algorithm() Algorithm { return h.algo }

// Decode decodes raw image bytes. Failures carry the IMAGE_DECODE code.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperrors.Wrap(err, apperrors.ImageDecode, "decode capture")
	}
	return img, format, nil
}

// Hash decodes data and fingerprints it.
func (h *Hasher) Hash(data []byte) (*goimagehash.ImageHash, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return h.Fingerprint(img)
}

// Fingerprint hashes an already decoded image.
func (h *Hasher) Fingerprint(img image.Image) (*goimagehash.ImageHash, error) {
	var (
		hash *goimagehash.ImageHash
		err  error
	)
	switch h.algo {
	case Perception:
		hash, err = goimagehash.PerceptionHash(img)
	case Difference:
		hash, err = goimagehash.DifferenceHash(img)
	default:
		hash, err = meanThreshold(img)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ImageDecode, fmt.Sprintf("%s hash", h.algo))
	}
	return hash, nil
}

// meanThreshold downsamples to an 8x8 luminance grid and sets bit i (raster
// order, most significant first) when pixel i is at or above the grid mean.
func meanThreshold(img image.Image) (*goimagehash.ImageHash, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty image %v", b)
	}

	small := resize.Resize(GridSize, GridSize, img, resize.Bilinear)
	sb := small.Bounds()

	// Integer luma keeps the comparison exact for flat regions.
	var lum [Bits]uint64
	var sum uint64
	for y := 0; y < GridSize; y++ {
		for x := 0; x < GridSize; x++ {
			r, g, bl, _ := small.At(sb.Min.X+x, sb.Min.Y+y).RGBA()
			l := 299*uint64(r>>8) + 587*uint64(g>>8) + 114*uint64(bl>>8)
			lum[y*GridSize+x] = l
			sum += l
		}
	}

	var bits uint64
	for i, l := range lum {
		if l*Bits >= sum {
			bits |= 1 << (Bits - 1 - i)
		}
	}
	return goimagehash.NewImageHash(bits, goimagehash.AHash), nil
}
