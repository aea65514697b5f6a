// Package barcode decodes 1-D and 2-D symbols from label images.
package barcode

import (
	"context"
	"errors"
	"image"
)

// ErrNotFound is returned when no symbol could be decoded.
var ErrNotFound = errors.New("barcode: no symbol found")

// Format represents a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatQR
	FormatDataMatrix
	FormatAztec
	FormatPDF417
	FormatCode128
	FormatCode39
	FormatEAN8
	FormatEAN13
	FormatUPCA
	FormatUPCE
	FormatITF
	FormatCodabar
)

var formatNames = map[Format]string{
	FormatUnknown:    "unknown",
	FormatQR:         "qr",
	FormatDataMatrix: "datamatrix",
	FormatAztec:      "aztec",
	FormatPDF417:     "pdf417",
	FormatCode128:    "code128",
	FormatCode39:     "code39",
	FormatEAN8:       "ean8",
	FormatEAN13:      "ean13",
	FormatUPCA:       "upca",
	FormatUPCE:       "upce",
	FormatITF:        "itf",
	FormatCodabar:    "codabar",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return formatNames[FormatUnknown]
}

// ParseFormat maps a lowercase symbology name back to a Format.
func ParseFormat(s string) (Format, bool) {
	for f, name := range formatNames {
		if name == s && f != FormatUnknown {
			return f, true
		}
	}
	return FormatUnknown, false
}

// Is2D reports whether the symbology is a matrix or stacked code.
func (f Format) Is2D() bool {
	switch f {
	case FormatQR, FormatDataMatrix, FormatAztec, FormatPDF417:
		return true
	default:
		return false
	}
}

// Options controls backend decoding behavior.
type Options struct {
	// Formats constrains the set of symbologies to search. Empty means all.
	Formats []Format

	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool

	// Multi keeps searching after the first hit and returns every symbol found.
	Multi bool

	// Rotate retries a 90 degree turned copy when the upright pass finds nothing.
	Rotate bool

	// ROI optionally restricts decoding to a sub-rectangle of the image.
	// If zero-sized or out of bounds, backends ignore it.
	ROI image.Rectangle
}

// DefaultOptions is what the scan pipeline uses on aligned frames.
func DefaultOptions() Options {
	return Options{TryHarder: true, Multi: true, Rotate: true}
}

// Point is an integer point in image coordinates.
type Point struct {
	X int
	Y int
}

// Result represents a decoded barcode.
type Result struct {
	Type   Format
	Value  string
	Points []Point
	BBox   image.Rectangle
}

// Backend is a pluggable barcode decoder implementation.
type Backend interface {
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

// NewBackend returns the default gozxing-backed decoder.
func NewBackend() Backend { return &gozxingBackend{} }

// FirstValue picks the payload the field parser should trust: the first 2-D
// symbol if any (these carry structured payloads), otherwise the longest 1-D
// value. ok is false when results holds no non-empty value.
func FirstValue(results []Result) (string, bool) {
	var best string
	for _, r := range results {
		if r.Value == "" {
			continue
		}
		if r.Type.Is2D() {
			return r.Value, true
		}
		if len(r.Value) > len(best) {
			best = r.Value
		}
	}
	return best, best != ""
}
