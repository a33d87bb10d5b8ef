// Package render turns an extracted document into a downloadable file.
package render

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iamanmiglani/Image-to-text/v1/document"
	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
)

// ErrRender wraps every renderer failure.
var ErrRender = fmt.Errorf("%w: render failed", turnerrors.ErrEngine)

var tracer = otel.Tracer("github.com/iamanmiglani/Image-to-text/v1/render")

// Renderer produces one output format.
type Renderer interface {
	Render(ctx context.Context, doc *document.Document) ([]byte, error)
	ContentType() string
	FileName() string
}

// File is a rendered document ready for download.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size reports the payload length.
func (f File) Size() int { return len(f.Data) }

// Generate runs r on doc and packages the result.
func Generate(ctx context.Context, r Renderer, doc *document.Document) (File, error) {
	ctx, span := tracer.Start(ctx, "render.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("render.file", r.FileName()), attribute.Int("render.images", doc.Len()))

	data, err := r.Render(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return File{}, fmt.Errorf("%w: %s: %w", ErrRender, r.FileName(), err)
	}
	span.SetAttributes(attribute.Int("render.bytes", len(data)))
	return File{Name: r.FileName(), ContentType: r.ContentType(), Data: data}, nil
}

func sectionTitle(name string) string {
	return "Image: " + name
}
