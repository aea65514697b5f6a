package ocr

import (
	"fmt"
	"strings"
)

// Layout is the text-layout assumption handed to the engine for a zone.
type Layout int

const (
	// LayoutUniformBlock treats the zone as one block of uniformly sized text.
	LayoutUniformBlock Layout = iota
	// LayoutSparse finds as much text as possible in no particular order.
	LayoutSparse
)

func (l Layout) String() string {
	switch l {
	case LayoutUniformBlock:
		return "uniform_block"
	case LayoutSparse:
		return "sparse"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout accepts the names produced by String.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uniform_block", "block":
		return LayoutUniformBlock, nil
	case "sparse":
		return LayoutSparse, nil
	default:
		return 0, fmt.Errorf("unknown layout %q", s)
	}
}

// Zone names used by the field parser.
const (
	ZoneHeader = "header"
	ZoneBody   = "body"
	ZoneFooter = "footer"
)

// DefaultHeaderFraction is the share of the label height treated as header.
const DefaultHeaderFraction = 0.40

// PreprocessOptions tunes the per-zone image cleanup before recognition.
type PreprocessOptions struct {
	Contrast   float64 // percentage passed to imaging.AdjustContrast
	Denoise    float64 // gaussian sigma; 0 disables
	Binarize   bool
	WindowSize int     // adaptive threshold window in pixels (after upscaling)
	Offset     float64 // subtracted from the local mean before comparing
	Upscale    float64 // 1 keeps the crop size
}

// Zone is a horizontal band of the aligned label expressed in fractions of
// its size.
type Zone struct {
	Name       string
	Top        float64
	Bottom     float64
	Left       float64
	Right      float64
	Layout     Layout
	Preprocess PreprocessOptions
}

// DefaultZones lays out header, body and footer bands. The header spans
// [0, headerFraction); the body starts slightly above the header boundary so
// identifiers drifting across it are still seen; the footer covers the last
// fifth. Values outside (0,1) fall back to DefaultHeaderFraction.
func DefaultZones(headerFraction float64) []Zone {
	if headerFraction <= 0 || headerFraction >= 1 {
		headerFraction = DefaultHeaderFraction
	}
	bodyTop := max(0, headerFraction-0.05)
	return []Zone{
		{
			Name: ZoneHeader, Top: 0, Bottom: headerFraction, Left: 0, Right: 1,
			Layout: LayoutUniformBlock,
			Preprocess: PreprocessOptions{
				Contrast: 30, Denoise: 1.0, Binarize: true, WindowSize: 31, Offset: 10, Upscale: 1.5,
			},
		},
		{
			Name: ZoneBody, Top: bodyTop, Bottom: 0.85, Left: 0, Right: 1,
			Layout: LayoutSparse,
			Preprocess: PreprocessOptions{
				Contrast: 20, Binarize: true, WindowSize: 25, Offset: 8, Upscale: 2,
			},
		},
		{
			Name: ZoneFooter, Top: 0.80, Bottom: 1, Left: 0, Right: 1,
			Layout: LayoutUniformBlock,
			Preprocess: PreprocessOptions{
				Contrast: 20, Binarize: true, WindowSize: 25, Offset: 8, Upscale: 2,
			},
		},
	}
}

// ZoneExtraction is the recognized text of one zone.
type ZoneExtraction struct {
	Zone       string  `json:"zone"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Layout     string  `json:"layout"`
}
