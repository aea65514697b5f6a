package align

import (
	"cmp"
	"slices"

	"github.com/MeKo-Tech/labelscan/internal/utils"
)

type quadCandidate struct {
	hull []utils.Point
	area float64
}

// findQuad looks for the label outline among the largest edge components and
// returns its ordered corners (TL, TR, BR, BL) in detection coordinates.
func findQuad(edges *edgeMask, cfg Config) ([4]utils.Point, bool) {
	frameArea := float64(edges.W * edges.H)
	minArea := cfg.MinAreaFraction * frameArea

	var cands []quadCandidate
	for _, o := range traceOutlines(edges, 16) {
		hull := utils.ConvexHull(o.extrema)
		if len(hull) < 4 {
			continue
		}
		area := utils.PolygonArea(hull)
		if area < minArea {
			continue
		}
		cands = append(cands, quadCandidate{hull: hull, area: area})
	}
	slices.SortFunc(cands, func(a, b quadCandidate) int { return cmp.Compare(b.area, a.area) })
	if len(cands) > cfg.MaxCandidates {
		cands = cands[:cfg.MaxCandidates]
	}

	for _, c := range cands {
		eps := cfg.ApproxEpsilon * utils.Perimeter(c.hull)
		approx := utils.ApproxClosedPolygon(c.hull, eps)
		if len(approx) != 4 || !utils.IsConvex(approx) {
			continue
		}
		q, ok := utils.OrderCorners(approx)
		if !ok {
			continue
		}
		return q, true
	}
	return [4]utils.Point{}, false
}
