package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/iamanmiglani/Image-to-text/v1/document"
)

const (
	pdfFileName    = "extracted_text.pdf"
	pdfContentType = "application/pdf"
)

// PDF renders an A4 document with a centered title, a bold "Image: <name>"
// line per image and the recognized lines wrapped below it. When Optimize is
// set the output is rewritten by pdfcpu, which also validates it.
type PDF struct {
	Optimize bool
}

func (PDF) ContentType() string { return pdfContentType }
func (PDF) FileName() string    { return pdfFileName }

// Render implements Renderer.
func (p PDF) Render(ctx context.Context, doc *document.Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(document.Title, true)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(0, 10, tr(document.Title), "", 1, "C", false, 0, "")
	pdf.Ln(10)
	for _, page := range doc.Pages() {
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 10, tr(sectionTitle(page.Name)), "", 1, "", false, 0, "")
		pdf.SetFont("Arial", "", 12)
		for _, line := range page.Lines {
			pdf.MultiCell(0, 10, tr(line), "", "", false)
		}
		pdf.Ln(5)
	}

	var raw bytes.Buffer
	if err := pdf.Output(&raw); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	if !p.Optimize {
		return raw.Bytes(), nil
	}
	return optimize(raw.Bytes())
}

func pdfConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

func optimize(raw []byte) ([]byte, error) {
	cfg := pdfConfig()
	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(raw), &out, cfg); err != nil {
		return nil, fmt.Errorf("optimize pdf: %w", err)
	}
	n, err := api.PageCount(bytes.NewReader(out.Bytes()), cfg)
	if err != nil {
		return nil, fmt.Errorf("count pdf pages: %w", err)
	}
	if n < 1 {
		return nil, errors.New("optimized pdf has no pages")
	}
	return out.Bytes(), nil
}

// PageCount returns the number of pages of a rendered PDF.
func PageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), pdfConfig())
}
