//go:build ocr

package ocr

import (
	"context"
	"errors"
	"testing"
)

func TestTesseractKeepsLanguagesAcrossCalls(t *testing.T) {
	tess, err := NewTesseract()
	if err != nil {
		t.Fatalf("NewTesseract: %v", err)
	}
	defer tess.Close()
	ctx := context.Background()

	if _, err := tess.Recognize(ctx, nil, []string{"eng"}); !errors.Is(err, ErrUnrecognizedFormat) {
		t.Fatalf("empty image: expected ErrUnrecognizedFormat, got %v", err)
	}
	first := tess.langs
	if _, err := tess.Recognize(ctx, nil, []string{"eng"}); !errors.Is(err, ErrUnrecognizedFormat) {
		t.Fatalf("empty image: expected ErrUnrecognizedFormat, got %v", err)
	}
	if len(first) == 0 || &tess.langs[0] != &first[0] {
		t.Fatalf("languages were set again for an unchanged list")
	}
}
