//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract recognizes text with a single warm gosseract client. The client
// is created on first use and calls are serialized, since one engine
// instance is not safe for concurrent use.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
	langs  []string
}

// NewTesseract returns a Tesseract recognizer. Tesseract and the language
// data must be installed on the host.
func NewTesseract() (*Tesseract, error) {
	return &Tesseract{}, nil
}

// Recognize implements Recognizer.
func (t *Tesseract) Recognize(ctx context.Context, png []byte, languages []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		t.client = gosseract.NewClient()
	}
	// SetLanguage forces the engine to reinitialize on the next call.
	if len(languages) > 0 && !sameLanguages(t.langs, languages) {
		if err := t.client.SetLanguage(languages...); err != nil {
			return nil, fmt.Errorf("%w: set languages: %v", ErrEngine, err)
		}
		t.langs = append([]string(nil), languages...)
	}
	if err := t.client.SetImageFromBytes(png); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedFormat, err)
	}
	text, err := t.client.Text()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	return SplitLines(text), nil
}

// Close releases the engine.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.langs = nil
	return err
}
