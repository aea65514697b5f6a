package align

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/labelscan/internal/mempool"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// edgeMask is a binary edge image in detection coordinates.
type edgeMask struct {
	W, H int
	Pix  []bool
}

func (m *edgeMask) count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// detectEdges blurs img, then thresholds the sobel gradient magnitude.
// Magnitudes are divided by 4 so a full black/white step scores 255.
func detectEdges(img image.Image, sigma, threshold float64) *edgeMask {
	if sigma > 0 {
		img = imaging.Blur(img, sigma)
	}
	g := utils.ToGrayPlane(img)
	defer g.Release()
	m := &edgeMask{W: g.W, H: g.H, Pix: mempool.GetBool(g.W * g.H)}
	thr := threshold * threshold
	for y := 1; y < g.H-1; y++ {
		for x := 1; x < g.W-1; x++ {
			tl, t, tr := g.At(x-1, y-1), g.At(x, y-1), g.At(x+1, y-1)
			l, r := g.At(x-1, y), g.At(x+1, y)
			bl, b, br := g.At(x-1, y+1), g.At(x, y+1), g.At(x+1, y+1)
			gx := float64((tr+2*r+br)-(tl+2*l+bl)) / 4
			gy := float64((bl+2*b+br)-(tl+2*t+tr)) / 4
			if gx*gx+gy*gy >= thr {
				m.Pix[y*g.W+x] = true
			}
		}
	}
	return m
}

// dilate grows edges with a square kernel, applied separably.
func (m *edgeMask) dilate(kernel, iterations int) *edgeMask {
	if kernel <= 1 || iterations <= 0 {
		return m
	}
	half := kernel / 2
	cur := m.Pix
	for i := range iterations {
		horiz := mempool.GetBool(len(cur))
		for y := range m.H {
			row := y * m.W
			for x := range m.W {
				if !cur[row+x] {
					continue
				}
				for nx := max(0, x-half); nx <= min(m.W-1, x+half); nx++ {
					horiz[row+nx] = true
				}
			}
		}
		out := mempool.GetBool(len(cur))
		for y := range m.H {
			for x := range m.W {
				if !horiz[y*m.W+x] {
					continue
				}
				for ny := max(0, y-half); ny <= min(m.H-1, y+half); ny++ {
					out[ny*m.W+x] = true
				}
			}
		}
		mempool.PutBool(horiz)
		if i > 0 {
			mempool.PutBool(cur)
		}
		cur = out
	}
	return &edgeMask{W: m.W, H: m.H, Pix: cur}
}

// release hands the mask buffer back to the pool. m must not be used after.
func (m *edgeMask) release() {
	mempool.PutBool(m.Pix)
	m.Pix = nil
}

// image renders the mask for debug dumps.
func (m *edgeMask) image() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, m.W, m.H))
	for i, v := range m.Pix {
		if v {
			out.Pix[i] = math.MaxUint8
		}
	}
	return out
}
