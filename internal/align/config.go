package align

// Config holds the tuning knobs for label alignment. Pixel-valued settings
// refer to the downscaled detection image, not the full-resolution frame.
type Config struct {
	DetectWidth      int     // width of the working copy used for detection
	BlurSigma        float64 // gaussian blur applied before edge detection
	EdgeThreshold    float64 // sobel magnitude (0..255 scale) counted as an edge
	DilateKernel     int     // square kernel size used to close gaps in outlines
	DilateIterations int     // number of dilation passes
	MaxCandidates    int     // largest outlines examined for a quadrilateral
	MinAreaFraction  float64 // outlines below this fraction of the frame are ignored
	ApproxEpsilon    float64 // polygon approximation tolerance as a fraction of the outline perimeter

	HoughResolution float64 // angular bin size in degrees
	MinLineVotes    float64 // minimum votes as a fraction of min(width, height)
	MaxLines        int     // strongest lines used for the skew estimate
	MinSkewDegrees  float64 // skews at or below this are left alone
	MaxSkewDegrees  float64 // skews above this are treated as unreliable

	DebugDir string // if non-empty, writes edge masks and overlays here
}

// DefaultConfig returns defaults tuned for handheld shots of shipping labels
// taken with a fixed overhead camera.
func DefaultConfig() Config {
	return Config{
		DetectWidth:      500,
		BlurSigma:        1.0,
		EdgeThreshold:    40,
		DilateKernel:     5,
		DilateIterations: 1,
		MaxCandidates:    5,
		MinAreaFraction:  0.20,
		ApproxEpsilon:    0.02,
		HoughResolution:  0.5,
		MinLineVotes:     0.25,
		MaxLines:         20,
		MinSkewDegrees:   0.5,
		MaxSkewDegrees:   20,
	}
}

// withDefaults fills zero values with defaults so partially populated configs
// (for example from tests) stay usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DetectWidth <= 0 {
		c.DetectWidth = d.DetectWidth
	}
	if c.EdgeThreshold <= 0 {
		c.EdgeThreshold = d.EdgeThreshold
	}
	if c.DilateKernel <= 0 {
		c.DilateKernel = d.DilateKernel
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.MinAreaFraction <= 0 {
		c.MinAreaFraction = d.MinAreaFraction
	}
	if c.ApproxEpsilon <= 0 {
		c.ApproxEpsilon = d.ApproxEpsilon
	}
	if c.HoughResolution <= 0 {
		c.HoughResolution = d.HoughResolution
	}
	if c.MinLineVotes <= 0 {
		c.MinLineVotes = d.MinLineVotes
	}
	if c.MaxLines <= 0 {
		c.MaxLines = d.MaxLines
	}
	if c.MaxSkewDegrees <= 0 {
		c.MaxSkewDegrees = d.MaxSkewDegrees
	}
	return c
}
