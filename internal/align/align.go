// Package align straightens a captured label before zonal OCR.
//
// Alignment tries a four-corner perspective warp of the label outline first
// and falls back to a hough-based deskew. When neither applies the input is
// returned untouched.
package align

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// Method names the alignment strategy that produced a Result.
type Method string

const (
	MethodQuadrilateral Method = "quadrilateral"
	MethodRotation      Method = "rotation"
	MethodNone          Method = "none"
)

// Result describes the outcome of Align. Image is always usable; for
// MethodNone it is the caller's original image.
type Result struct {
	Image       image.Image
	Success     bool
	Method      Method
	Quad        []utils.Point // ordered TL, TR, BR, BL in frame coordinates (quadrilateral only)
	SkewDegrees float64       // measured tilt (rotation only)
}

// Aligner is safe for concurrent use; it holds only configuration.
type Aligner struct {
	cfg Config
}

// New creates an Aligner. Zero fields in cfg take their defaults.
func New(cfg Config) *Aligner {
	return &Aligner{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (a *Aligner) Config() Config { return a.cfg }

// Align never fails: any problem along the way results in MethodNone.
func (a *Aligner) Align(ctx context.Context, img image.Image) Result {
	none := Result{Image: img, Method: MethodNone}
	if img == nil || img.Bounds().Empty() {
		return none
	}

	small, scale, err := utils.ResizeToWidth(img, a.cfg.DetectWidth)
	if err != nil {
		slog.Debug("Alignment resize failed", "error", err)
		return none
	}
	edges := detectEdges(small, a.cfg.BlurSigma, a.cfg.EdgeThreshold)
	defer edges.release()
	closed := edges.dilate(a.cfg.DilateKernel, a.cfg.DilateIterations)
	if closed != edges {
		defer closed.release()
	}
	if a.cfg.DebugDir != "" {
		_ = dumpMask(a.cfg.DebugDir, closed)
	}

	if res, ok := a.alignQuad(img, closed, scale); ok {
		return res
	}
	if ctx.Err() != nil {
		return none
	}
	if res, ok := a.alignRotation(img, edges); ok {
		return res
	}
	slog.Debug("No alignment applied")
	return none
}

func (a *Aligner) alignQuad(img image.Image, edges *edgeMask, scale float64) (Result, bool) {
	q, ok := findQuad(edges, a.cfg)
	if !ok {
		return Result{}, false
	}
	b := img.Bounds()
	var frame [4]utils.Point
	for i, p := range q {
		frame[i] = utils.Point{X: p.X*scale + float64(b.Min.X), Y: p.Y*scale + float64(b.Min.Y)}
	}
	w, h := outputSize(frame)
	warped, ok := warpQuad(img, frame, w, h)
	if !ok {
		slog.Debug("Quadrilateral warp rejected", "width", w, "height", h)
		return Result{}, false
	}
	if a.cfg.DebugDir != "" {
		_ = dumpOverlay(a.cfg.DebugDir, img, frame[:])
	}
	slog.Debug("Label aligned by perspective warp", "width", w, "height", h)
	return Result{
		Image:   warped,
		Success: true,
		Method:  MethodQuadrilateral,
		Quad:    frame[:],
	}, true
}

func (a *Aligner) alignRotation(img image.Image, edges *edgeMask) (Result, bool) {
	skew, ok := estimateSkew(edges, a.cfg)
	if !ok {
		return Result{}, false
	}
	mag := math.Abs(skew)
	if mag <= a.cfg.MinSkewDegrees || mag > a.cfg.MaxSkewDegrees {
		slog.Debug("Skew outside correction range", "degrees", skew)
		return Result{}, false
	}
	// imaging.Rotate turns counter-clockwise for positive angles, which undoes
	// a clockwise tilt of the same magnitude.
	rotated := imaging.Rotate(img, skew, color.White)
	slog.Debug("Label aligned by rotation", "degrees", skew)
	return Result{
		Image:       rotated,
		Success:     true,
		Method:      MethodRotation,
		SkewDegrees: skew,
	}, true
}

// EstimateSkew reports the dominant text-line tilt of img in degrees without
// modifying it. ok is false when no line is strong enough to measure.
func (a *Aligner) EstimateSkew(img image.Image) (float64, bool) {
	small, _, err := utils.ResizeToWidth(img, a.cfg.DetectWidth)
	if err != nil {
		return 0, false
	}
	return estimateSkew(detectEdges(small, a.cfg.BlurSigma, a.cfg.EdgeThreshold), a.cfg)
}
