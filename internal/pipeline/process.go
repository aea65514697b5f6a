package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime/debug"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/align"
	"github.com/MeKo-Tech/labelscan/internal/fields"
	"github.com/MeKo-Tech/labelscan/internal/ocr"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// AlignmentInfo summarizes what the alignment stage did.
type AlignmentInfo struct {
	Success     bool          `json:"success"`
	Method      align.Method  `json:"method"`
	Quad        []utils.Point `json:"quad,omitempty"`
	SkewDegrees float64       `json:"skew_degrees,omitempty"`
}

// Result is the full output of one pipeline run.
type Result struct {
	Fields        *fields.FieldSet     `json:"fields"`
	Alignment     AlignmentInfo        `json:"alignment"`
	Zones         []ocr.ZoneExtraction `json:"zones"`
	BarcodeFormat string               `json:"barcode_format,omitempty"`
	Width         int                  `json:"width"`
	Height        int                  `json:"height"`
	Processing    struct {
		AlignNs   int64 `json:"align_ns"`
		ExtractNs int64 `json:"extract_ns"`
		ParseNs   int64 `json:"parse_ns"`
		TotalNs   int64 `json:"total_ns"`
	} `json:"processing"`

	// Aligned is the frame handed to OCR; not serialized.
	Aligned image.Image `json:"-"`
}

// Process runs Align, Extract and Parse on one frame.
func (p *Pipeline) Process(ctx context.Context, img image.Image) (*fields.FieldSet, error) {
	res, err := p.ProcessDetailed(ctx, img, "")
	if err != nil {
		return nil, err
	}
	return res.Fields, nil
}

// ProcessDetailed is Process with the intermediate results. timestamp is
// the capture time passed to the parser; empty means now.
func (p *Pipeline) ProcessDetailed(ctx context.Context, img image.Image, timestamp string) (res *Result, err error) {
	if p == nil || p.Aligner == nil || p.Extractor == nil || p.Parser == nil {
		return nil, errors.New("pipeline not initialized")
	}
	if img == nil || img.Bounds().Empty() {
		return nil, &utils.ImageProcessingError{Operation: "process", Err: errors.New("input image is nil or empty")}
	}

	stage := "align"
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Pipeline panic", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("pipeline %s stage panicked: %v", stage, r)
		}
	}()

	bounds := img.Bounds()
	p.logger.Debug("Starting label processing", "width", bounds.Dx(), "height", bounds.Dy())
	totalStart := time.Now()

	alignStart := time.Now()
	aligned := p.Aligner.Align(ctx, img)
	alignNs := time.Since(alignStart).Nanoseconds()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = "extract"
	extractStart := time.Now()
	extraction, err := p.Extractor.Extract(ctx, aligned.Image)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	extractNs := time.Since(extractStart).Nanoseconds()

	stage = "parse"
	parseStart := time.Now()
	fs := p.Parser.ParseInput(fields.Input{
		Zones:     extraction.Zones,
		Barcode:   extraction.Barcode,
		Timestamp: timestamp,
	})
	parseNs := time.Since(parseStart).Nanoseconds()

	out := &Result{
		Fields: fs,
		Alignment: AlignmentInfo{
			Success:     aligned.Success,
			Method:      aligned.Method,
			Quad:        aligned.Quad,
			SkewDegrees: aligned.SkewDegrees,
		},
		Zones:         extraction.Zones,
		BarcodeFormat: extraction.BarcodeFormat,
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Aligned:       aligned.Image,
	}
	out.Processing.AlignNs = alignNs
	out.Processing.ExtractNs = extractNs
	out.Processing.ParseNs = parseNs
	out.Processing.TotalNs = time.Since(totalStart).Nanoseconds()
	p.profiler.Record(alignNs, extractNs, parseNs)

	p.logger.Debug("Label processing completed",
		"alignment", aligned.Method,
		"populated", fs.Populated(),
		"confidence", fs.Confidence,
		"align_ms", alignNs/1_000_000,
		"extract_ms", extractNs/1_000_000,
		"parse_ms", parseNs/1_000_000,
		"total_ms", out.Processing.TotalNs/1_000_000)
	return out, nil
}
