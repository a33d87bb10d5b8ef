//go:build !ocr

package ocr

import (
	"context"
	"fmt"
)

// ErrOCRNotEnabled is returned when the binary was built without the "ocr"
// tag. Rebuild with -tags ocr to link Tesseract.
var ErrOCRNotEnabled = fmt.Errorf("%w: OCR support not enabled; rebuild with -tags ocr", ErrEngine)

// Tesseract is the stub recognizer used without the "ocr" build tag.
type Tesseract struct{}

// NewTesseract returns ErrOCRNotEnabled.
func NewTesseract() (*Tesseract, error) {
	return nil, ErrOCRNotEnabled
}

// Recognize implements Recognizer. It always fails.
func (t *Tesseract) Recognize(ctx context.Context, png []byte, languages []string) ([]string, error) {
	return nil, ErrOCRNotEnabled
}

// Close is a no-op. It is safe to call on a nil recognizer.
func (t *Tesseract) Close() error { return nil }
