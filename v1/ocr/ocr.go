// Package ocr turns uploaded images into recognized text lines. Images are
// first normalized to PNG so the engine only ever sees one container format.
package ocr

import (
	"context"
	"fmt"
	"slices"
	"strings"

	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
)

var (
	// ErrUnsupportedContainer is returned for uploads that are not a
	// supported image format.
	ErrUnsupportedContainer = fmt.Errorf("%w: unsupported image container", turnerrors.ErrValidation)
	// ErrUnrecognizedFormat is returned when the engine rejects image data.
	ErrUnrecognizedFormat = fmt.Errorf("%w: image data not recognized", turnerrors.ErrValidation)
	// ErrEngine wraps failures of the recognition engine itself.
	ErrEngine = fmt.Errorf("%w: recognition failed", turnerrors.ErrEngine)
)

// DefaultLanguages is used when no language is configured.
var DefaultLanguages = []string{"eng"}

// Recognizer extracts text lines from a PNG image.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte, languages []string) ([]string, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, png []byte, languages []string) ([]string, error)

// Recognize implements Recognizer.
func (f RecognizerFunc) Recognize(ctx context.Context, png []byte, languages []string) ([]string, error) {
	return f(ctx, png, languages)
}

// SplitLines breaks engine output into trimmed, non-empty lines.
func SplitLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// sameLanguages reports whether the engine is already set up for next.
func sameLanguages(cur, next []string) bool {
	return cur != nil && slices.Equal(cur, next)
}
