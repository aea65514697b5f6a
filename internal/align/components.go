package align

import (
	"github.com/MeKo-Tech/labelscan/internal/mempool"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// outline is one 8-connected edge component. Only the leftmost and rightmost
// pixel of each row are kept, which is enough to reproduce the convex hull.
type outline struct {
	pixels  int
	extrema []utils.Point
}

// traceOutlines labels 8-connected components of the mask with an iterative flood fill.
// Components smaller than minPixels are dropped.
func traceOutlines(m *edgeMask, minPixels int) []outline {
	visited := mempool.GetBool(len(m.Pix))
	defer mempool.PutBool(visited)
	stack := make([]int, 0, 1024)
	var out []outline

	type span struct{ lo, hi int }

	for start, on := range m.Pix {
		if !on || visited[start] {
			continue
		}
		visited[start] = true
		stack = append(stack[:0], start)
		rows := map[int]span{}
		pixels := 0

		for len(stack) > 0 {
			ci := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cx, cy := ci%m.W, ci/m.W
			pixels++
			if s, ok := rows[cy]; ok {
				rows[cy] = span{lo: min(s.lo, cx), hi: max(s.hi, cx)}
			} else {
				rows[cy] = span{lo: cx, hi: cx}
			}

			for dy := -1; dy <= 1; dy++ {
				ny := cy + dy
				if ny < 0 || ny >= m.H {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := cx + dx
					if nx < 0 || nx >= m.W || (dx == 0 && dy == 0) {
						continue
					}
					ni := ny*m.W + nx
					if m.Pix[ni] && !visited[ni] {
						visited[ni] = true
						stack = append(stack, ni)
					}
				}
			}
		}

		if pixels < minPixels {
			continue
		}
		o := outline{pixels: pixels, extrema: make([]utils.Point, 0, 2*len(rows))}
		for y, s := range rows {
			o.extrema = append(o.extrema,
				utils.Point{X: float64(s.lo), Y: float64(y)},
				utils.Point{X: float64(s.hi), Y: float64(y)})
		}
		out = append(out, o)
	}
	return out
}
