// Package tesseract implements ocr.Engine on top of the gosseract client.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/labelscan/internal/ocr"
)

// Config selects languages and optional tesseract variables.
type Config struct {
	Languages []string
	Whitelist string
	TessData  string // prefix directory for traineddata files; empty uses the system default
}

// DefaultConfig recognizes English and Indonesian label print.
func DefaultConfig() Config {
	return Config{Languages: []string{"eng", "ind"}}
}

// Engine creates one gosseract client per call; clients are not safe for
// concurrent use and are cheap compared with recognition itself.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient}
}

// Version reports the linked tesseract version.
func (e *Engine) Version() string {
	c := e.clientFactory()
	defer func() { _ = c.Close() }()
	return c.Version()
}

// Recognize implements ocr.Engine.
func (e *Engine) Recognize(ctx context.Context, img image.Image, layout ocr.Layout) (ocr.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Recognition{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ocr.Recognition{}, fmt.Errorf("encode zone: %w", err)
	}

	c := e.clientFactory()
	defer func() { _ = c.Close() }()

	if e.cfg.TessData != "" {
		if err := c.SetTessdataPrefix(e.cfg.TessData); err != nil {
			return ocr.Recognition{}, fmt.Errorf("%w: tessdata: %v", ocr.ErrEngineUnavailable, err)
		}
	}
	if len(e.cfg.Languages) > 0 {
		if err := c.SetLanguage(e.cfg.Languages...); err != nil {
			return ocr.Recognition{}, fmt.Errorf("%w: set languages: %v", ocr.ErrEngineUnavailable, err)
		}
	}
	if e.cfg.Whitelist != "" {
		if err := c.SetWhitelist(e.cfg.Whitelist); err != nil {
			return ocr.Recognition{}, fmt.Errorf("set whitelist: %w", err)
		}
	}
	if err := c.SetPageSegMode(pageSegMode(layout)); err != nil {
		return ocr.Recognition{}, fmt.Errorf("set page segmentation: %w", err)
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return ocr.Recognition{}, fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("recognize text: %w", err)
	}
	return ocr.Recognition{Text: strings.TrimSpace(text), Confidence: meanWordConfidence(c)}, nil
}

func pageSegMode(l ocr.Layout) gosseract.PageSegMode {
	if l == ocr.LayoutSparse {
		return gosseract.PSM_SPARSE_TEXT
	}
	return gosseract.PSM_SINGLE_BLOCK
}

func meanWordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
