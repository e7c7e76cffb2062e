package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Engine recognizes the text of one encoded page image.
type Engine interface {
	Recognize(ctx context.Context, png []byte) (string, error)
}

// EngineConfig selects the OCR language and layout assumption.
type EngineConfig struct {
	Languages      []string
	PageSegMode    int
	TessdataPrefix string
}

func (c EngineConfig) withDefaults() EngineConfig {
	if len(c.Languages) == 0 {
		c.Languages = []string{"spa"}
	}
	if c.PageSegMode <= 0 {
		c.PageSegMode = int(gosseract.PSM_SINGLE_BLOCK)
	}
	return c
}

// TesseractEngine uses libtesseract through gosseract. A client is not
// safe for concurrent use, so each page gets its own.
type TesseractEngine struct {
	cfg           EngineConfig
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine constructs a gosseract-backed engine.
func NewTesseractEngine(cfg EngineConfig) *TesseractEngine {
	return &TesseractEngine{cfg: cfg.withDefaults(), clientFactory: gosseract.NewClient}
}

// Recognize performs OCR on a single page.
func (e *TesseractEngine) Recognize(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	c := e.clientFactory()
	defer c.Close() //nolint:errcheck // releases the tesseract handle
	if e.cfg.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.cfg.TessdataPrefix); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(e.cfg.Languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(e.cfg.PageSegMode)); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}

// CLIEngine runs the tesseract executable, for hosts where the binary path
// is configured but the shared library is not linked.
type CLIEngine struct {
	Binary string
	cfg    EngineConfig
}

// NewCLIEngine returns an engine that shells out to binary.
func NewCLIEngine(binary string, cfg EngineConfig) *CLIEngine {
	if binary == "" {
		binary = "tesseract"
	}
	return &CLIEngine{Binary: binary, cfg: cfg.withDefaults()}
}

// Recognize pipes the page through tesseract's stdin/stdout mode.
func (e *CLIEngine) Recognize(ctx context.Context, png []byte) (string, error) {
	args := []string{"stdin", "stdout", "-l", strings.Join(e.cfg.Languages, "+"), "--psm", strconv.Itoa(e.cfg.PageSegMode)}
	if e.cfg.TessdataPrefix != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataPrefix)
	}
	// #nosec G204 -- binary comes from operator configuration.
	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Stdin = bytes.NewReader(png)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run %s: %w: %s", e.Binary, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.String(), nil
}
