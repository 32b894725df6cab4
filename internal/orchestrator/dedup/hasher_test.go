package dedup

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// makePattern renders a synthetic screen with a distinct luminance layout.
func makePattern(pattern, size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	cell := size / 8
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			var c color.RGBA
			switch pattern {
			case 0: // solid gray
				c = color.RGBA{R: 128, G: 128, B: 128, A: 255}
			case 1: // checkerboard aligned to the hash grid
				if (x/cell+y/cell)%2 == 0 {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				} else {
					c = color.RGBA{A: 255}
				}
			case 2: // horizontal gradient
				v := uint8(x * 255 / (size - 1))
				c = color.RGBA{R: v, G: v, B: v, A: 255}
			case 3: // left half dark, right half light
				if x < size/2 {
					c = color.RGBA{A: 255}
				} else {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHashDeterministic(t *testing.T) {
	h := NewHasher(Average)
	data := encodeJPEG(t, makePattern(1, 256), 85)

	a, err := h.Hash(data)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, _ := h.Hash(data)
	if a.GetHash() != b.GetHash() {
		t.Errorf("hash differs across calls: %x vs %x", a.GetHash(), b.GetHash())
	}
}

func TestHashTolerantToRecompression(t *testing.T) {
	h := NewHasher(Average)
	for _, pattern := range []int{1, 2, 3} {
		img := makePattern(pattern, 256)
		hi, err := h.Hash(encodeJPEG(t, img, 95))
		if err != nil {
			t.Fatal(err)
		}
		lo, err := h.Hash(encodeJPEG(t, img, 40))
		if err != nil {
			t.Fatal(err)
		}
		dist, _ := hi.Distance(lo)
		if dist > 2 {
			t.Errorf("pattern %d: recompression distance = %d, want <= 2", pattern, dist)
		}
	}
}

func TestMeanThresholdBitLayout(t *testing.T) {
	h := NewHasher(Average)

	half, err := h.Hash(encodePNG(t, makePattern(3, 8)))
	if err != nil {
		t.Fatal(err)
	}
	if got := half.GetHash(); got != 0x0F0F0F0F0F0F0F0F {
		t.Errorf("half/half hash = %016x, want 0f0f0f0f0f0f0f0f", got)
	}

	// Every pixel equals the mean, and equality sets the bit.
	flat, _ := h.Hash(encodePNG(t, makePattern(0, 8)))
	if got := flat.GetHash(); got != ^uint64(0) {
		t.Errorf("uniform hash = %016x, want all ones", got)
	}
}

func TestHashDistinctImages(t *testing.T) {
	h := NewHasher(Average)
	a, _ := h.Hash(encodeJPEG(t, makePattern(1, 128), 90))
	b, _ := h.Hash(encodeJPEG(t, makePattern(2, 128), 90))

	dist, err := a.Distance(b)
	if err != nil {
		t.Fatal(err)
	}
	if Similarity(dist) >= 98 {
		t.Errorf("distinct images too similar: distance %d", dist)
	}
}

func TestHashDecodeError(t *testing.T) {
	_, err := NewHasher(Average).Hash([]byte("definitely not an image"))
	if !apperrors.IsCode(err, apperrors.ImageDecode) {
		t.Errorf("Hash(garbage) error = %v, want IMAGE_DECODE", err)
	}
}

func TestAlternateAlgorithms(t *testing.T) {
	data := encodePNG(t, makePattern(1, 64))
	for _, algo := range []Algorithm{Perception, Difference} {
		h := NewHasher(algo)
		a, err := h.Hash(data)
		if err != nil {
			t.Fatalf("%s: %v", algo, err)
		}
		b, _ := h.Hash(data)
		if d, _ := a.Distance(b); d != 0 {
			t.Errorf("%s: self distance = %d", algo, d)
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", Average, false},
		{"average", Average, false},
		{"perception", Perception, false},
		{"difference", Difference, false},
		{"wavelet", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAlgorithm(%q) = (%q, %v)", tt.in, got, err)
		}
	}
}
