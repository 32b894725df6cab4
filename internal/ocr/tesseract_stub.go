//go:build notesseract

package ocr

import (
	"context"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// TesseractStrategy is compiled out with the notesseract tag.
type TesseractStrategy struct{}

func NewTesseract([]string) *TesseractStrategy { return &TesseractStrategy{} }

func (s *TesseractStrategy) Name() string { return "tesseract" }

func (s *TesseractStrategy) Available(context.Context) bool { return false }

func (s *TesseractStrategy) Extract(context.Context, string) (string, error) {
	return "", apperrors.New(apperrors.OCRStrategyUnavailable, "built without tesseract")
}
