package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LabelSpec describes a synthetic shipping label.
type LabelSpec struct {
	Width   int
	Height  int
	Header  []string
	Body    []string
	Footer  []string
	Barcode string // Code 128 payload drawn under the header lines
	Scale   int    // text magnification of the 7x13 bitmap font
}

// DefaultLabelSpec returns a portrait label with typical marketplace content.
func DefaultLabelSpec() LabelSpec {
	return LabelSpec{
		Width:  600,
		Height: 800,
		Header: []string{"TRACKING: SPXID012345678901", "ORDER: 240115ABCDEF12", "SORT: 12-A-03"},
		Body: []string{
			"PENERIMA: Budi Santoso",
			"Jl. Merdeka No. 10, Kec. Tebet",
			"PENGIRIM: Toko Maju",
			"BERAT: 1.2 kg  QTY: 2",
		},
		Footer: []string{"DISTRICT: JAKARTA SELATAN"},
		Scale:  2,
	}
}

// RenderLabel draws spec onto a white canvas. Header lines occupy the top
// 40%, body lines the middle band and footer lines the bottom fifth.
func RenderLabel(t *testing.T, spec LabelSpec) *image.RGBA {
	t.Helper()

	if spec.Scale <= 0 {
		spec.Scale = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	lineH := 13*spec.Scale + 8
	y := 16
	for _, line := range spec.Header {
		drawLine(img, line, 20, y, spec.Scale)
		y += lineH
	}
	if spec.Barcode != "" {
		bc := RenderCode128(t, spec.Barcode, spec.Width-80, 80)
		r := bc.Bounds()
		draw.Draw(img, image.Rect(40, y+8, 40+r.Dx(), y+8+r.Dy()), bc, r.Min, draw.Src)
	}

	y = spec.Height*2/5 + 12
	for _, line := range spec.Body {
		drawLine(img, line, 20, y, spec.Scale)
		y += lineH
	}

	y = spec.Height*4/5 + 12
	for _, line := range spec.Footer {
		drawLine(img, line, 20, y, spec.Scale)
		y += lineH
	}
	return img
}

func drawLine(dst *image.RGBA, text string, x, y, scale int) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	if w == 0 {
		return
	}
	strip := image.NewRGBA(image.Rect(0, 0, w, 13))
	draw.Draw(strip, strip.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: strip, Src: image.Black, Face: face, Dot: fixed.P(0, 11)}
	d.DrawString(text)

	big := imaging.Resize(strip, w*scale, 13*scale, imaging.NearestNeighbor)
	draw.Draw(dst, image.Rect(x, y, x+big.Bounds().Dx(), y+big.Bounds().Dy()), big, image.Point{}, draw.Src)
}

// RenderCode128 encodes value as a Code 128 symbol at least w x h pixels.
func RenderCode128(t *testing.T, value string, w, h int) image.Image {
	t.Helper()

	m, err := oned.NewCode128Writer().Encode(value, gozxing.BarcodeFormat_CODE_128, w, h, nil)
	require.NoError(t, err)
	out := image.NewRGBA(m.Bounds())
	draw.Draw(out, out.Bounds(), m, m.Bounds().Min, draw.Src)
	return out
}

// PlaceOnDesk centres label on a dark desk of the given size after turning it
// counter-clockwise by angle degrees.
func PlaceOnDesk(label image.Image, deskW, deskH int, angle float64) image.Image {
	desk := color.NRGBA{R: 45, G: 45, B: 50, A: 255}
	var turned image.Image = label
	if angle != 0 {
		turned = imaging.Rotate(label, angle, desk)
	}
	return imaging.PasteCenter(imaging.New(deskW, deskH, desk), turned)
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// EncodeJPEG returns img as JPEG bytes at quality 90.
func EncodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)))
	return buf.Bytes()
}

// SaveImage writes img to path, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	f, err := os.Create(path) //nolint:gosec // G304: test output path
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	require.NoError(t, png.Encode(f, img))
}
