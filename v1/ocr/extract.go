package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/iamanmiglani/Image-to-text/v1/document"
)

var tracer = otel.Tracer("github.com/iamanmiglani/Image-to-text/v1/ocr")

// Input is one image to recognize.
type Input struct {
	Name        string
	ContentType string
	Data        []byte
}

// Extractor runs a batch of images through normalization and recognition.
type Extractor struct {
	Normalizer  Normalizer
	Recognizer  Recognizer
	Languages   []string
	Parallelism int
	Logger      *slog.Logger
}

// Extract normalizes every input concurrently, then recognizes them one at a
// time in upload order. Any failure fails the whole batch.
func (e *Extractor) Extract(ctx context.Context, inputs []Input) (*document.Document, error) {
	ctx, span := tracer.Start(ctx, "ocr.Extract")
	defer span.End()
	span.SetAttributes(attribute.Int("ocr.images", len(inputs)))

	doc, err := e.extract(ctx, inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return doc, err
}

func (e *Extractor) extract(ctx context.Context, inputs []Input) (*document.Document, error) {
	if e.Recognizer == nil {
		return nil, fmt.Errorf("%w: no recognizer configured", ErrEngine)
	}
	langs := e.Languages
	if len(langs) == 0 {
		langs = DefaultLanguages
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pngs := make([][]byte, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	limit := e.Parallelism
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := e.Normalizer.NormalizePNG(in.Data, in.ContentType)
			if err != nil {
				return fmt.Errorf("image %s: %w", in.Name, err)
			}
			pngs[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := document.New()
	for i, in := range inputs {
		lines, err := e.Recognizer.Recognize(ctx, pngs[i], langs)
		if err != nil {
			if !errors.Is(err, ErrUnrecognizedFormat) && !errors.Is(err, ErrEngine) {
				err = fmt.Errorf("%w: %w", ErrEngine, err)
			}
			return nil, fmt.Errorf("image %s: %w", in.Name, err)
		}
		logger.Debug("image recognized", "image", in.Name, "lines", len(lines))
		doc.Add(in.Name, lines)
	}
	return doc, nil
}
