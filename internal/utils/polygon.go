package utils

import (
	"cmp"
	"math"
	"slices"
)

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }

// ConvexHull computes the convex hull of a point set with the monotone chain
// algorithm. The hull is returned counter-clockwise (in a y-up frame) without
// repeating the first point.
func ConvexHull(pts []Point) []Point {
	if len(pts) <= 1 {
		return slices.Clone(pts)
	}
	p := slices.Clone(pts)
	slices.SortFunc(p, func(a, b Point) int {
		if c := cmp.Compare(a.X, b.X); c != 0 {
			return c
		}
		return cmp.Compare(a.Y, b.Y)
	})
	p = slices.Compact(p)
	if len(p) <= 2 {
		return p
	}

	hull := make([]Point, 0, 2*len(p))
	for _, pt := range p {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	lower := len(hull) + 1
	for i := len(p) - 2; i >= 0; i-- {
		pt := p[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	return hull[:len(hull)-1]
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// PolygonArea returns the absolute enclosed area of a closed polygon.
func PolygonArea(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var s float64
	for i := range pts {
		a := pts[i]
		b := pts[(i+1)%len(pts)]
		s += a.X*b.Y - b.X*a.Y
	}
	return math.Abs(s) / 2
}

// Perimeter returns the length of the closed polygon outline.
func Perimeter(pts []Point) float64 {
	if len(pts) < 2 {
		return 0
	}
	var l float64
	for i := range pts {
		l += Distance(pts[i], pts[(i+1)%len(pts)])
	}
	return l
}

// ApproxClosedPolygon simplifies a closed polygon with Douglas-Peucker. The
// outline is split at two mutually distant vertices so the result does not
// depend on where the input sequence happens to start.
func ApproxClosedPolygon(pts []Point, epsilon float64) []Point {
	n := len(pts)
	if n <= 3 || epsilon <= 0 {
		return slices.Clone(pts)
	}
	a := farthestFrom(pts, pts[0])
	b := farthestFrom(pts, pts[a])
	if a == b {
		return slices.Clone(pts)
	}
	if a > b {
		a, b = b, a
	}

	first := pts[a : b+1]
	second := append(slices.Clone(pts[b:]), pts[:a+1]...)

	keep1 := douglasPeucker(first, epsilon)
	keep2 := douglasPeucker(second, epsilon)

	out := make([]Point, 0, len(keep1)+len(keep2))
	out = append(out, keep1[:len(keep1)-1]...)
	out = append(out, keep2[:len(keep2)-1]...)
	return out
}

func farthestFrom(pts []Point, ref Point) int {
	best, bestD := 0, -1.0
	for i, p := range pts {
		if d := Distance(p, ref); d > bestD {
			best, bestD = i, d
		}
	}
	return best
}

// douglasPeucker simplifies an open polyline, always keeping both endpoints.
func douglasPeucker(pts []Point, eps float64) []Point {
	if len(pts) < 3 {
		return slices.Clone(pts)
	}
	keep := make([]bool, len(pts))
	keep[0], keep[len(pts)-1] = true, true

	type span struct{ lo, hi int }
	stack := []span{{0, len(pts) - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		idx, maxD := -1, eps
		for i := s.lo + 1; i < s.hi; i++ {
			if d := segmentDistance(pts[i], pts[s.lo], pts[s.hi]); d > maxD {
				idx, maxD = i, d
			}
		}
		if idx < 0 {
			continue
		}
		keep[idx] = true
		stack = append(stack, span{s.lo, idx}, span{idx, s.hi})
	}

	out := make([]Point, 0, len(pts))
	for i, k := range keep {
		if k {
			out = append(out, pts[i])
		}
	}
	return out
}

// segmentDistance is the perpendicular distance from p to the line through a and b.
func segmentDistance(p, a, b Point) float64 {
	vx, vy := b.X-a.X, b.Y-a.Y
	den := math.Hypot(vx, vy)
	if den == 0 {
		return Distance(p, a)
	}
	return math.Abs((p.X-a.X)*vy-(p.Y-a.Y)*vx) / den
}

// IsConvex reports whether the closed polygon turns consistently in one
// direction and has a non-zero area.
func IsConvex(pts []Point) bool {
	n := len(pts)
	if n < 3 {
		return false
	}
	sign := 0
	for i := range n {
		c := cross(pts[i], pts[(i+1)%n], pts[(i+2)%n])
		switch {
		case c > 0:
			if sign < 0 {
				return false
			}
			sign = 1
		case c < 0:
			if sign > 0 {
				return false
			}
			sign = -1
		}
	}
	return sign != 0
}

// OrderCorners orders four points as top-left, top-right, bottom-right,
// bottom-left in image coordinates (y grows downwards). The top-left corner
// has the smallest x+y, the bottom-right the largest; the top-right has the
// smallest y-x and the bottom-left the largest.
func OrderCorners(pts []Point) ([4]Point, bool) {
	var out [4]Point
	if len(pts) != 4 {
		return out, false
	}
	tl, br, tr, bl := 0, 0, 0, 0
	for i, p := range pts {
		if p.X+p.Y < pts[tl].X+pts[tl].Y {
			tl = i
		}
		if p.X+p.Y > pts[br].X+pts[br].Y {
			br = i
		}
		if p.Y-p.X < pts[tr].Y-pts[tr].X {
			tr = i
		}
		if p.Y-p.X > pts[bl].Y-pts[bl].X {
			bl = i
		}
	}
	seen := map[int]bool{tl: true, tr: true, br: true, bl: true}
	if len(seen) != 4 {
		return out, false
	}
	out = [4]Point{pts[tl], pts[tr], pts[br], pts[bl]}
	return out, true
}
