package align

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// outputSize derives the rectified size from the averaged opposite edges of
// an ordered TL, TR, BR, BL quad.
func outputSize(q [4]utils.Point) (int, int) {
	w := (utils.Distance(q[0], q[1]) + utils.Distance(q[3], q[2])) / 2
	h := (utils.Distance(q[0], q[3]) + utils.Distance(q[1], q[2])) / 2
	return int(math.Round(w)), int(math.Round(h))
}

// warpQuad maps the ordered quad in src onto a dstW x dstH rectangle using an
// inverse homography with bilinear sampling. Pixels that fall outside the
// source are painted white so they read as label background.
func warpQuad(src image.Image, q [4]utils.Point, dstW, dstH int) (*image.NRGBA, bool) {
	if dstW <= 1 || dstH <= 1 {
		return nil, false
	}
	rect := [4]utils.Point{
		{X: 0, Y: 0},
		{X: float64(dstW - 1), Y: 0},
		{X: float64(dstW - 1), Y: float64(dstH - 1)},
		{X: 0, Y: float64(dstH - 1)},
	}
	h, ok := solveHomography(rect, q)
	if !ok {
		return nil, false
	}

	// Work on a zero-origin NRGBA copy so sampling can index Pix directly.
	sb := src.Bounds()
	in := imaging.Clone(src)
	origin := utils.Point{X: float64(sb.Min.X), Y: float64(sb.Min.Y)}

	out := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	for y := range dstH {
		row := out.Pix[y*out.Stride:]
		for x := range dstW {
			sx, sy := h.apply(float64(x), float64(y))
			px := sampleBilinear(in, sx-origin.X, sy-origin.Y)
			copy(row[x*4:x*4+4], px[:])
		}
	}
	return out, true
}

func sampleBilinear(img *image.NRGBA, x, y float64) [4]uint8 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return [4]uint8{255, 255, 255, 255}
	}
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)

	at := func(px, py, c int) float64 {
		return float64(img.Pix[py*img.Stride+px*4+c])
	}
	var out [4]uint8
	for c := range 4 {
		top := at(x0, y0, c) + (at(x1, y0, c)-at(x0, y0, c))*fx
		bot := at(x0, y1, c) + (at(x1, y1, c)-at(x0, y1, c))*fx
		out[c] = uint8(top + (bot-top)*fy + 0.5)
	}
	return out
}
