package ocr

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Preprocess turns a zone crop into a clean grayscale (or binary) image for
// recognition: grayscale, contrast stretch, optional upscale and denoise,
// then local-mean adaptive binarization.
func Preprocess(img image.Image, opts PreprocessOptions) *image.Gray {
	g := imaging.Grayscale(img)
	if opts.Contrast != 0 {
		g = imaging.AdjustContrast(g, opts.Contrast)
	}
	if opts.Upscale > 1 {
		b := g.Bounds()
		w := int(math.Round(float64(b.Dx()) * opts.Upscale))
		h := int(math.Round(float64(b.Dy()) * opts.Upscale))
		g = imaging.Resize(g, w, h, imaging.CatmullRom)
	}
	if opts.Denoise > 0 {
		g = imaging.Blur(g, opts.Denoise)
	}

	gray := toGray(g)
	stretch(gray)
	if opts.Binarize {
		adaptiveThreshold(gray, opts.WindowSize, opts.Offset)
	}
	return gray
}

func toGray(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := range b.Dy() {
		src := img.Pix[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := range b.Dx() {
			dst[x] = src[x*4]
		}
	}
	return out
}

// stretch linearly maps the observed [min,max] intensity range onto [0,255].
func stretch(g *image.Gray) {
	lo, hi := uint8(255), uint8(0)
	for _, v := range g.Pix {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi <= lo {
		return
	}
	span := float64(hi - lo)
	for i, v := range g.Pix {
		g.Pix[i] = uint8(float64(v-lo)*255/span + 0.5)
	}
}

// adaptiveThreshold binarizes in place: a pixel becomes black when it is
// darker than the mean of its window minus offset. Window sums come from an
// integral image so the cost is independent of the window size.
func adaptiveThreshold(g *image.Gray, window int, offset float64) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return
	}
	if window < 3 {
		window = 3
	}
	half := window / 2

	integral := make([]int64, (w+1)*(h+1))
	for y := range h {
		var rowSum int64
		for x := range w {
			rowSum += int64(g.Pix[y*g.Stride+x])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
		}
	}

	out := make([]uint8, len(g.Pix))
	for y := range h {
		y0, y1 := max(0, y-half), min(h, y+half+1)
		for x := range w {
			x0, x1 := max(0, x-half), min(w, x+half+1)
			sum := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
			mean := float64(sum) / float64((x1-x0)*(y1-y0))
			if float64(g.Pix[y*g.Stride+x]) < mean-offset {
				out[y*g.Stride+x] = 0
			} else {
				out[y*g.Stride+x] = 255
			}
		}
	}
	copy(g.Pix, out)
}
