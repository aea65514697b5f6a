// Package pipeline wires alignment, zonal OCR and field parsing into a
// single Process call.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/MeKo-Tech/labelscan/internal/align"
	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/fields"
	"github.com/MeKo-Tech/labelscan/internal/ocr"
	"github.com/MeKo-Tech/labelscan/internal/ocr/tesseract"
)

// Config holds configuration for every stage of the pipeline.
type Config struct {
	Align     align.Config
	OCR       ocr.Config
	Tesseract tesseract.Config
	Fields    fields.Config
	Parallel  ParallelConfig
}

// DefaultConfig returns a default pipeline config with component defaults.
func DefaultConfig() Config {
	return Config{
		Align:     align.DefaultConfig(),
		OCR:       ocr.DefaultConfig(),
		Tesseract: tesseract.DefaultConfig(),
		Fields:    fields.DefaultConfig(),
		Parallel:  DefaultParallelConfig(),
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg     Config
	engine  ocr.Engine
	decoder barcode.Backend
	logger  *slog.Logger
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// NewBuilderFromConfig starts from an existing configuration.
func NewBuilderFromConfig(cfg Config) *Builder { return &Builder{cfg: cfg} }

// WithHeaderFraction sets where the identifier zone ends (0..1 of the height).
func (b *Builder) WithHeaderFraction(f float64) *Builder {
	if f > 0 && f < 1 {
		b.cfg.OCR.HeaderFraction = f
		b.cfg.OCR.Zones = nil
	}
	return b
}

// WithZones overrides the zone layout entirely.
func (b *Builder) WithZones(zones []ocr.Zone) *Builder {
	b.cfg.OCR.Zones = zones
	return b
}

// WithBarcodes enables/disables barcode decoding before OCR.
func (b *Builder) WithBarcodes(enabled bool) *Builder {
	b.cfg.OCR.DecodeBarcodes = enabled
	return b
}

// WithBarcodeFormats restricts decoding to the given formats.
func (b *Builder) WithBarcodeFormats(formats []barcode.Format) *Builder {
	b.cfg.OCR.Barcode.Formats = formats
	return b
}

// WithLanguages sets the tesseract languages.
func (b *Builder) WithLanguages(langs ...string) *Builder {
	if len(langs) > 0 {
		b.cfg.Tesseract.Languages = langs
	}
	return b
}

// WithTessData sets the tessdata prefix directory.
func (b *Builder) WithTessData(dir string) *Builder {
	b.cfg.Tesseract.TessData = dir
	return b
}

// WithAlignDebugDir enables debug dumps for the alignment stage into dir.
func (b *Builder) WithAlignDebugDir(dir string) *Builder {
	b.cfg.Align.DebugDir = dir
	return b
}

// WithSkewLimits sets the rotation fallback window in degrees.
func (b *Builder) WithSkewLimits(minDeg, maxDeg float64) *Builder {
	if minDeg >= 0 {
		b.cfg.Align.MinSkewDegrees = minDeg
	}
	if maxDeg > 0 {
		b.cfg.Align.MaxSkewDegrees = maxDeg
	}
	return b
}

// WithZoneWeights sets the confidence weights of header, body and footer.
func (b *Builder) WithZoneWeights(header, body, footer float64) *Builder {
	b.cfg.Fields = fields.Config{HeaderWeight: header, BodyWeight: body, FooterWeight: footer}
	return b
}

// WithParallelWorkers sets the number of workers used by ProcessBatch.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithProgressCallback sets the progress callback for batch processing.
func (b *Builder) WithProgressCallback(callback ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = callback
	return b
}

// WithEngine replaces the tesseract engine, mostly for tests.
func (b *Builder) WithEngine(e ocr.Engine) *Builder {
	b.engine = e
	return b
}

// WithDecoder replaces the gozxing barcode backend.
func (b *Builder) WithDecoder(d barcode.Backend) *Builder {
	b.decoder = d
	return b
}

// WithLogger sets the logger used for stage timings.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the configuration looks sane.
func (b *Builder) Validate() error {
	hf := b.cfg.OCR.HeaderFraction
	if len(b.cfg.OCR.Zones) == 0 && (hf <= 0 || hf >= 1) {
		return fmt.Errorf("header fraction must be in (0,1), got %v", hf)
	}
	if b.cfg.Align.MaxSkewDegrees < b.cfg.Align.MinSkewDegrees {
		return errors.New("max skew must not be below min skew")
	}
	w := b.cfg.Fields
	if w.HeaderWeight < 0 || w.BodyWeight < 0 || w.FooterWeight < 0 {
		return errors.New("zone weights must be non-negative")
	}
	if w.HeaderWeight+w.BodyWeight+w.FooterWeight <= 0 {
		return errors.New("at least one zone weight must be positive")
	}
	if b.engine == nil && len(b.cfg.Tesseract.Languages) == 0 {
		return errors.New("tesseract needs at least one language")
	}
	return nil
}

// Build validates the configuration and constructs the Pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := b.engine
	if engine == nil {
		engine = tesseract.New(b.cfg.Tesseract)
	}
	decoder := b.decoder
	if decoder == nil {
		decoder = barcode.NewBackend()
	}
	extractor, err := ocr.NewExtractor(b.cfg.OCR, engine, decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	p := &Pipeline{
		cfg:       b.cfg,
		Aligner:   align.New(b.cfg.Align),
		Extractor: extractor,
		Parser:    fields.NewParser(b.cfg.Fields),
		logger:    logger,
	}
	if p.cfg.Parallel.MaxWorkers <= 0 {
		p.cfg.Parallel.MaxWorkers = runtime.NumCPU()
	}
	logger.Debug("Pipeline built",
		"zones", len(extractor.Zones()),
		"barcodes", b.cfg.OCR.DecodeBarcodes,
		"languages", b.cfg.Tesseract.Languages)
	return p, nil
}

// Pipeline runs Align, Extract and Parse. It is safe for concurrent use.
type Pipeline struct {
	cfg       Config
	Aligner   *align.Aligner
	Extractor *ocr.Extractor
	Parser    *fields.Parser

	logger   *slog.Logger
	profiler Profiler
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Stats returns cumulative stage timings.
func (p *Pipeline) Stats() map[string]any { return p.profiler.Snapshot() }

// Close releases resources. The stages hold none today; it exists so
// callers can defer it regardless of the engine in use.
func (p *Pipeline) Close() error {
	if c, ok := p.Extractor.Engine().(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
