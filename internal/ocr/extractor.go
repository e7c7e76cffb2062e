package ocr

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/openperu-ingest/internal/fetch"
)

// Downloader retrieves document bytes.
type Downloader interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error)
}

// ExtractorConfig tunes page processing.
type ExtractorConfig struct {
	// Threshold is the binarization cut-off; zero uses DefaultThreshold.
	Threshold uint8
	// Workers bounds concurrent page OCR; zero uses GOMAXPROCS.
	Workers int
}

// Extractor downloads a PDF, renders its pages and OCRs them.
type Extractor struct {
	downloader Downloader
	renderer   Renderer
	engine     Engine
	threshold  uint8
	workers    int
	logger     *zap.Logger
}

// NewExtractor wires an Extractor.
func NewExtractor(d Downloader, r Renderer, e Engine, cfg ExtractorConfig, logger *zap.Logger) (*Extractor, error) {
	if d == nil || r == nil || e == nil {
		return nil, fmt.Errorf("downloader, renderer and engine are required")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		downloader: d,
		renderer:   r,
		engine:     e,
		threshold:  cfg.Threshold,
		workers:    cfg.Workers,
		logger:     logger.Named("ocr"),
	}, nil
}

// Extract returns the concatenated text of every page of the document at
// url. Each page's text is preceded by a single space.
func (x *Extractor) Extract(ctx context.Context, url string) (string, error) {
	resp, err := x.downloader.Fetch(ctx, fetch.Request{URL: url})
	if err != nil {
		return "", fmt.Errorf("download document: %w", err)
	}
	pages, err := x.renderer.Render(ctx, resp.Body)
	if err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}

	texts := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)
	for i, page := range pages {
		g.Go(func() error {
			encoded, err := encodePNG(Binarize(page, x.threshold))
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			text, err := x.engine.Recognize(gctx, encoded)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, t := range texts {
		b.WriteString(" ")
		b.WriteString(t)
	}
	x.logger.Debug("document extracted", zap.String("url", url), zap.Int("pages", len(pages)))
	return b.String(), nil
}
