package align

import (
	"cmp"
	"math"
	"slices"
)

// lineDeviation converts a hough normal angle (degrees, [0,180)) into the
// tilt of the line away from the nearest image axis, normalized to (-45,45].
// Positive values mean the content is turned clockwise on screen.
func lineDeviation(theta float64) float64 {
	d := theta - 90
	for d > 45 {
		d -= 90
	}
	for d <= -45 {
		d += 90
	}
	return d
}

type houghPeak struct {
	theta int
	rho   int
	votes int32
}

// estimateSkew runs a hough transform over the edge mask, restricted to
// normals within maxDeg of an axis, and returns the median deviation of the
// strongest lines. ok is false when no line reaches the vote threshold.
func estimateSkew(edges *edgeMask, cfg Config) (float64, bool) {
	res := cfg.HoughResolution
	limit := cfg.MaxSkewDegrees + res

	var thetas []float64
	for t := 0.0; t < 180; t += res {
		if math.Abs(lineDeviation(t)) <= limit {
			thetas = append(thetas, t)
		}
	}
	if len(thetas) == 0 {
		return 0, false
	}
	cosT := make([]float64, len(thetas))
	sinT := make([]float64, len(thetas))
	for i, t := range thetas {
		rad := t * math.Pi / 180
		cosT[i], sinT[i] = math.Cos(rad), math.Sin(rad)
	}

	diag := int(math.Ceil(math.Hypot(float64(edges.W), float64(edges.H))))
	nRho := 2*diag + 1
	acc := make([]int32, len(thetas)*nRho)
	for y := range edges.H {
		for x := range edges.W {
			if !edges.Pix[y*edges.W+x] {
				continue
			}
			fx, fy := float64(x), float64(y)
			for ti := range thetas {
				rho := int(math.Round(fx*cosT[ti]+fy*sinT[ti])) + diag
				acc[ti*nRho+rho]++
			}
		}
	}

	minVotes := int32(cfg.MinLineVotes * float64(min(edges.W, edges.H)))
	var peaks []houghPeak
	for i, v := range acc {
		if v >= minVotes && v > 0 {
			peaks = append(peaks, houghPeak{theta: i / nRho, rho: i % nRho, votes: v})
		}
	}
	if len(peaks) == 0 {
		return 0, false
	}
	slices.SortFunc(peaks, func(a, b houghPeak) int { return cmp.Compare(b.votes, a.votes) })

	// Suppress neighbours of accepted lines so a thick edge counts once.
	const thetaWindow, rhoWindow = 4, 8
	var lines []houghPeak
	for _, p := range peaks {
		dup := false
		for _, l := range lines {
			if absInt(l.theta-p.theta) <= thetaWindow && absInt(l.rho-p.rho) <= rhoWindow {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		lines = append(lines, p)
		if len(lines) >= cfg.MaxLines {
			break
		}
	}

	devs := make([]float64, len(lines))
	for i, l := range lines {
		devs[i] = lineDeviation(thetas[l.theta])
	}
	return median(devs), true
}

func median(v []float64) float64 {
	s := slices.Clone(v)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
