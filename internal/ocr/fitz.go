package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer rasterizes PDFs in process with MuPDF.
type FitzRenderer struct {
	DPI int
}

// NewFitzRenderer returns a renderer at dpi, defaulting to 300.
func NewFitzRenderer(dpi int) *FitzRenderer {
	if dpi <= 0 {
		dpi = 300
	}
	return &FitzRenderer{DPI: dpi}
}

// Render rasterizes every page. Cancellation is checked between pages.
func (r *FitzRenderer) Render(ctx context.Context, pdf []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close() //nolint:errcheck // in-memory document

	n := doc.NumPage()
	if n == 0 {
		return nil, ErrNoPages
	}
	pages := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, float64(r.DPI))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

// NewRenderer selects a renderer by name: "fitz" (the default) renders in
// process, "pdftoppm" runs binary.
func NewRenderer(kind, binary string, dpi int) (Renderer, error) {
	switch kind {
	case "", "fitz":
		return NewFitzRenderer(dpi), nil
	case "pdftoppm":
		return NewPdftoppmRenderer(binary, dpi), nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", kind)
	}
}
