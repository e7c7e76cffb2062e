package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// ErrNoPages reports a document that rendered to zero pages.
var ErrNoPages = errors.New("document has no pages")

// Renderer rasterizes every page of a PDF, in page order.
type Renderer interface {
	Render(ctx context.Context, pdf []byte) ([]image.Image, error)
}

// PdftoppmRenderer shells out to poppler's pdftoppm.
type PdftoppmRenderer struct {
	Binary string
	DPI    int
}

// NewPdftoppmRenderer returns a renderer using binary at dpi. Empty or
// zero values default to "pdftoppm" and 300.
func NewPdftoppmRenderer(binary string, dpi int) *PdftoppmRenderer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 300
	}
	return &PdftoppmRenderer{Binary: binary, DPI: dpi}
}

// Render writes pdf to a scratch directory and rasterizes it to grayscale
// PNG pages.
func (r *PdftoppmRenderer) Render(ctx context.Context, pdf []byte) ([]image.Image, error) {
	dir, err := os.MkdirTemp("", "ocr-render-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir) //nolint:errcheck // scratch cleanup

	in := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	prefix := filepath.Join(dir, "page")
	// #nosec G204 -- binary comes from operator configuration.
	cmd := exec.CommandContext(ctx, r.Binary, "-r", strconv.Itoa(r.DPI), "-gray", "-png", in, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", r.Binary, err, bytes.TrimSpace(stderr.Bytes()))
	}

	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoPages
	}
	// pdftoppm zero-pads page numbers to a common width, so lexical order
	// is page order.
	sort.Strings(files)
	pages := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := decodePNGFile(f)
		if err != nil {
			return nil, err
		}
		pages = append(pages, img)
	}
	return pages, nil
}

func decodePNGFile(path string) (image.Image, error) {
	// #nosec G304 -- path is inside the scratch directory.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode page %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
