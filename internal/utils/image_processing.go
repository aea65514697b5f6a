package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/labelscan/internal/mempool"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ResizeToWidth scales img down so that its width does not exceed maxWidth,
// preserving aspect ratio. It returns the resized image and the factor that
// maps resized coordinates back to the original (original = resized * scale).
// Images already narrower than maxWidth are returned unchanged with scale 1.
func ResizeToWidth(img image.Image, maxWidth int) (image.Image, float64, error) {
	if img == nil {
		return nil, 0, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, 0, &ImageProcessingError{
			Operation: "resize",
			Err:       fmt.Errorf("invalid image dimensions %dx%d", b.Dx(), b.Dy()),
		}
	}
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img, 1, nil
	}
	resized := imaging.Resize(img, maxWidth, 0, imaging.Linear)
	return resized, float64(b.Dx()) / float64(resized.Bounds().Dx()), nil
}

// GrayPlane is a single-channel float image with intensities in [0,255].
type GrayPlane struct {
	W   int
	H   int
	Pix []float32
}

// NewGrayPlane takes a zeroed plane from the scratch pool.
func NewGrayPlane(w, h int) *GrayPlane {
	return &GrayPlane{W: w, H: h, Pix: mempool.GetFloat32(w * h)}
}

// Release returns the pixels to the scratch pool. g must not be used after.
func (g *GrayPlane) Release() {
	mempool.PutFloat32(g.Pix)
	g.Pix = nil
}

// At returns the intensity at (x,y) with coordinates clamped to the plane.
func (g *GrayPlane) At(x, y int) float32 {
	x = clampInt(x, 0, g.W-1)
	y = clampInt(y, 0, g.H-1)
	return g.Pix[y*g.W+x]
}

// ToGrayPlane converts img to luminance using imaging.Grayscale.
func ToGrayPlane(img image.Image) *GrayPlane {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	g := NewGrayPlane(b.Dx(), b.Dy())
	for y := range g.H {
		row := gray.Pix[y*gray.Stride:]
		for x := range g.W {
			g.Pix[y*g.W+x] = float32(row[x*4])
		}
	}
	return g
}

// Image renders the plane as an 8-bit grayscale image.
func (g *GrayPlane) Image() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, g.W, g.H))
	for i, v := range g.Pix {
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		out.Pix[i] = uint8(v + 0.5)
	}
	return out
}

// SameImage reports whether a and b have identical bounds and pixels.
func SameImage(a, b image.Image) bool {
	if a.Bounds() != b.Bounds() {
		return false
	}
	r := a.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if color.RGBA64Model.Convert(a.At(x, y)) != color.RGBA64Model.Convert(b.At(x, y)) {
				return false
			}
		}
	}
	return true
}
