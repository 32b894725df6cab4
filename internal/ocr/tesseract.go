//go:build !notesseract

package ocr

import (
	"context"

	"github.com/otiai10/gosseract/v2"
)

// TesseractStrategy binds libtesseract through gosseract. A client is created
// per call because gosseract clients are not safe for concurrent use.
type TesseractStrategy struct {
	languages []string
}

func NewTesseract(languages []string) *TesseractStrategy {
	return &TesseractStrategy{languages: languages}
}

func (s *TesseractStrategy) Name() string { return "tesseract" }

func (s *TesseractStrategy) Available(context.Context) bool {
	return gosseract.Version() != ""
}

// Extract is not interruptible; the pipeline abandons it on timeout.
func (s *TesseractStrategy) Extract(_ context.Context, path string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(s.languages) > 0 {
		if err := client.SetLanguage(s.languages...); err != nil {
			return "", err
		}
	}
	if err := client.SetImage(path); err != nil {
		return "", err
	}
	return client.Text()
}
