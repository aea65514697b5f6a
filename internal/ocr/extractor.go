package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// Config controls zonal extraction.
type Config struct {
	HeaderFraction float64
	Zones          []Zone // overrides DefaultZones(HeaderFraction) when non-empty
	DecodeBarcodes bool
	Barcode        barcode.Options
}

// DefaultConfig returns the standard three-zone layout with barcode decoding.
func DefaultConfig() Config {
	return Config{
		HeaderFraction: DefaultHeaderFraction,
		DecodeBarcodes: true,
		Barcode:        barcode.DefaultOptions(),
	}
}

// Extraction is the combined output of one Extract call.
type Extraction struct {
	Zones         []ZoneExtraction `json:"zones"`
	Barcode       *string          `json:"barcode,omitempty"`
	BarcodeFormat string           `json:"barcode_format,omitempty"`
	Duration      time.Duration    `json:"-"`
}

// Zone returns the extraction for name, if present.
func (e Extraction) Zone(name string) (ZoneExtraction, bool) {
	for _, z := range e.Zones {
		if z.Zone == name {
			return z, true
		}
	}
	return ZoneExtraction{}, false
}

// Extractor runs barcode decoding and zonal OCR over aligned frames. It is
// safe for concurrent use when the engine and decoder are.
type Extractor struct {
	cfg     Config
	zones   []Zone
	engine  Engine
	decoder barcode.Backend
}

// NewExtractor builds an Extractor. A nil decoder disables barcode decoding.
func NewExtractor(cfg Config, engine Engine, decoder barcode.Backend) (*Extractor, error) {
	if engine == nil {
		return nil, errors.New("ocr: engine is required")
	}
	zones := cfg.Zones
	if len(zones) == 0 {
		zones = DefaultZones(cfg.HeaderFraction)
	}
	for _, z := range zones {
		if z.Name == "" {
			return nil, errors.New("ocr: zone without a name")
		}
		if z.Bottom <= z.Top || (z.Right != 0 && z.Right <= z.Left) {
			return nil, fmt.Errorf("ocr: zone %s has an empty extent", z.Name)
		}
	}
	if !cfg.DecodeBarcodes {
		decoder = nil
	}
	return &Extractor{cfg: cfg, zones: zones, engine: engine, decoder: decoder}, nil
}

// Zones returns the zone layout in use.
func (x *Extractor) Zones() []Zone { return x.zones }

// Engine returns the recognition engine.
func (x *Extractor) Engine() Engine { return x.engine }

// Extract decodes any barcode on the full frame, then preprocesses and
// recognizes each zone in order. An engine failure on any zone fails the
// whole extraction.
func (x *Extractor) Extract(ctx context.Context, img image.Image) (Extraction, error) {
	start := time.Now()
	if img == nil || img.Bounds().Empty() {
		return Extraction{}, errors.New("ocr: empty image")
	}

	var out Extraction
	if x.decoder != nil {
		res, err := x.decoder.Decode(ctx, img, x.cfg.Barcode)
		switch {
		case err == nil:
			if v, ok := barcode.FirstValue(res); ok {
				out.Barcode = &v
				out.BarcodeFormat = formatOf(res, v)
				slog.Debug("Barcode decoded", "format", out.BarcodeFormat, "length", len(v))
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return Extraction{}, err
		case !errors.Is(err, barcode.ErrNotFound):
			slog.Debug("Barcode decode failed", "error", err)
		}
	}

	bounds := img.Bounds()
	for _, z := range x.zones {
		if err := ctx.Err(); err != nil {
			return Extraction{}, err
		}
		right := z.Right
		if right == 0 {
			right = 1
		}
		crop := utils.CropImageBox(img, utils.FractionalBox(bounds, z.Left, z.Top, right, z.Bottom))
		prepared := Preprocess(crop, z.Preprocess)

		rec, err := x.engine.Recognize(ctx, prepared, z.Layout)
		if err != nil {
			return Extraction{}, fmt.Errorf("ocr: zone %s: %w", z.Name, err)
		}
		out.Zones = append(out.Zones, ZoneExtraction{
			Zone:       z.Name,
			Text:       strings.TrimSpace(rec.Text),
			Confidence: clampConfidence(rec.Confidence),
			Layout:     z.Layout.String(),
		})
	}
	out.Duration = time.Since(start)
	slog.Debug("Zonal extraction completed", "zones", len(out.Zones), "duration_ms", out.Duration.Milliseconds())
	return out, nil
}

func formatOf(res []barcode.Result, value string) string {
	for _, r := range res {
		if r.Value == value {
			return r.Type.String()
		}
	}
	return barcode.FormatUnknown.String()
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
