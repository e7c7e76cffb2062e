package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/openperu-ingest/internal/fetch"
)

type fakeDownloader struct {
	body []byte
	err  error
}

func (f fakeDownloader) Fetch(_ context.Context, req fetch.Request) (fetch.Response, error) {
	if f.err != nil {
		return fetch.Response{}, f.err
	}
	return fetch.Response{URL: req.URL, StatusCode: 200, Body: f.body}, nil
}

// pageRenderer returns n one-pixel pages whose gray level encodes the page
// number, so the engine can tell pages apart after binarization.
type pageRenderer struct {
	n   int
	err error
}

func (r pageRenderer) Render(context.Context, []byte) ([]image.Image, error) {
	if r.err != nil {
		return nil, r.err
	}
	pages := make([]image.Image, r.n)
	for i := range pages {
		img := image.NewGray(image.Rect(0, 0, r.n, 1))
		// Pixel i is white, the rest black.
		img.SetGray(i, 0, color.Gray{Y: 255})
		pages[i] = img
	}
	return pages, nil
}

type pageEngine struct {
	calls atomic.Int32
	fail  int
}

func (e *pageEngine) Recognize(_ context.Context, data []byte) (string, error) {
	e.calls.Add(1)
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	b := img.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		if g := color.GrayModel.Convert(img.At(x, 0)).(color.Gray); g.Y == 255 {
			if x+1 == e.fail {
				return "", errors.New("engine failure")
			}
			// Later pages finish first to prove ordering is by page.
			time.Sleep(time.Duration(b.Max.X-x) * time.Millisecond)
			return fmt.Sprintf("page%d", x+1), nil
		}
	}
	return "", errors.New("no white pixel")
}

func TestExtractJoinsPagesInOrder(t *testing.T) {
	t.Parallel()

	engine := &pageEngine{}
	x, err := NewExtractor(fakeDownloader{body: []byte("%PDF")}, pageRenderer{n: 4}, engine, ExtractorConfig{Workers: 4}, nil)
	require.NoError(t, err)

	text, err := x.Extract(context.Background(), "https://example.org/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, " page1 page2 page3 page4", text)
	assert.Equal(t, int32(4), engine.calls.Load())
}

func TestExtractPropagatesFailures(t *testing.T) {
	t.Parallel()

	_, err := NewExtractor(nil, pageRenderer{}, &pageEngine{}, ExtractorConfig{}, nil)
	require.Error(t, err)

	x, err := NewExtractor(fakeDownloader{err: errors.New("404")}, pageRenderer{n: 1}, &pageEngine{}, ExtractorConfig{}, nil)
	require.NoError(t, err)
	_, err = x.Extract(context.Background(), "u")
	require.ErrorContains(t, err, "download document")

	x, err = NewExtractor(fakeDownloader{}, pageRenderer{err: ErrNoPages}, &pageEngine{}, ExtractorConfig{}, nil)
	require.NoError(t, err)
	_, err = x.Extract(context.Background(), "u")
	require.ErrorIs(t, err, ErrNoPages)

	x, err = NewExtractor(fakeDownloader{}, pageRenderer{n: 3}, &pageEngine{fail: 2}, ExtractorConfig{Workers: 1}, nil)
	require.NoError(t, err)
	_, err = x.Extract(context.Background(), "u")
	require.ErrorContains(t, err, "page 2")
}

func TestPdftoppmRendererMissingBinary(t *testing.T) {
	t.Parallel()

	r := NewPdftoppmRenderer("/nonexistent/pdftoppm", 0)
	assert.Equal(t, 300, r.DPI)
	_, err := r.Render(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
}

func TestCLIEngineMissingBinary(t *testing.T) {
	t.Parallel()

	e := NewCLIEngine("/nonexistent/tesseract", EngineConfig{})
	assert.Equal(t, []string{"spa"}, e.cfg.Languages)
	assert.Equal(t, 6, e.cfg.PageSegMode)
	_, err := e.Recognize(context.Background(), []byte{0x89, 'P', 'N', 'G'})
	require.Error(t, err)
}
