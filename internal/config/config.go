package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/align"
	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/capture"
	"github.com/MeKo-Tech/labelscan/internal/fields"
	"github.com/MeKo-Tech/labelscan/internal/ocr"
	"github.com/MeKo-Tech/labelscan/internal/ocr/tesseract"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/scan"
	"github.com/MeKo-Tech/labelscan/internal/server"
)

// DefaultConfig returns the configuration used when nothing else is set.
// Package defaults are the single source of truth; this only projects them.
func DefaultConfig() *Config {
	cam := capture.DefaultConfig()
	al := align.DefaultConfig()
	oc := ocr.DefaultConfig()
	ts := tesseract.DefaultConfig()
	fw := fields.DefaultConfig()
	sc := scan.DefaultConfig()
	sv := server.DefaultConfig()

	return &Config{
		LogLevel: "info",
		Verbose:  false,
		Camera: CameraConfig{
			Enabled:     true,
			Devices:     cam.DeviceIDs,
			Format:      cam.Format,
			Width:       1280,
			Height:      720,
			FPS:         30,
			OpenTimeout: cam.OpenTimeout,
			RetryDelay:  cam.RetryDelay,
			MaxFailures: cam.MaxConsecutiveFailures,
			StreamFPS:   cam.StreamFPS,
			StreamWidth: cam.StreamWidth,
		},
		Align: AlignConfig{
			DetectWidth:     al.DetectWidth,
			MinAreaFraction: al.MinAreaFraction,
			MinSkewDegrees:  al.MinSkewDegrees,
			MaxSkewDegrees:  al.MaxSkewDegrees,
		},
		OCR: OCRConfig{
			HeaderFraction: oc.HeaderFraction,
			Languages:      ts.Languages,
			Barcodes:       oc.DecodeBarcodes,
			TryHarder:      oc.Barcode.TryHarder,
		},
		Fields: FieldsConfig{
			HeaderWeight:  fw.HeaderWeight,
			BodyWeight:    fw.BodyWeight,
			FooterWeight:  fw.FooterWeight,
			MinConfidence: fields.DefaultMinConfidence,
		},
		Scan: ScanConfig{
			Workers:           sc.Workers,
			QueueSize:         sc.QueueSize,
			MaxProcessingTime: sc.MaxProcessingTime,
			RecorderTimeout:   sc.RecorderTimeout,
			RetentionTTL:      sc.RetentionTTL,
			MaxRecords:        sc.MaxRecords,
			JanitorInterval:   sc.JanitorInterval,
		},
		Server: ServerConfig{
			Host:            sv.Host,
			Port:            sv.Port,
			CORSOrigin:      sv.CORSOrigin,
			MaxUploadMB:     sv.MaxUploadMB,
			TimeoutSec:      sv.TimeoutSec,
			ShutdownTimeout: 10,
			PollAttempts:    sv.PollAttempts,
			PollDelay:       sv.PollDelay,
			StreamQuality:   sv.StreamQuality,
			SnapshotQuality: sv.SnapshotQuality,
			WSWaitTimeout:   sv.WSWaitTimeout,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
				MaxRequestsPerDay: 5000,
				MaxDataPerDayMB:   1024,
			},
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.OCR.HeaderFraction <= 0 || c.OCR.HeaderFraction >= 1 {
		return fmt.Errorf("invalid ocr.header_fraction: %v (must be between 0 and 1, exclusive)", c.OCR.HeaderFraction)
	}
	if len(c.OCR.Languages) == 0 {
		return fmt.Errorf("invalid ocr.languages: at least one tesseract language is required")
	}
	for _, name := range c.OCR.BarcodeFormats {
		f, ok := barcode.ParseFormat(name)
		if !ok {
			return fmt.Errorf("invalid ocr.barcode_formats entry: %s", name)
		}
		if !barcode.Supported(f) {
			return fmt.Errorf("invalid ocr.barcode_formats entry: %s has no decoder", name)
		}
	}

	if err := validateThreshold(c.Fields.MinConfidence, "fields.min_confidence"); err != nil {
		return err
	}
	if err := validateThreshold(c.Align.MinAreaFraction, "align.min_area_fraction"); err != nil {
		return err
	}
	for name, w := range map[string]float64{
		"fields.header_weight": c.Fields.HeaderWeight,
		"fields.body_weight":   c.Fields.BodyWeight,
		"fields.footer_weight": c.Fields.FooterWeight,
	} {
		if w < 0 {
			return fmt.Errorf("invalid %s: %v (must not be negative)", name, w)
		}
	}
	if c.Fields.HeaderWeight+c.Fields.BodyWeight+c.Fields.FooterWeight <= 0 {
		return fmt.Errorf("invalid field weights: at least one must be positive")
	}
	if c.Align.MaxSkewDegrees < c.Align.MinSkewDegrees {
		return fmt.Errorf("invalid align.max_skew_degrees: %v (below min_skew_degrees %v)", c.Align.MaxSkewDegrees, c.Align.MinSkewDegrees)
	}

	if c.Camera.Enabled && c.Camera.Image == "" && len(c.Camera.Devices) == 0 {
		return fmt.Errorf("invalid camera.devices: at least one device is required when the camera is enabled")
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 || c.Camera.FPS < 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d@%d (must not be negative)", c.Camera.Width, c.Camera.Height, c.Camera.FPS)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.PollAttempts == 0 {
		return fmt.Errorf("invalid server.poll_attempts: 0 (must be positive)")
	}
	if err := validateQuality(c.Server.StreamQuality, "server.stream_quality"); err != nil {
		return err
	}
	if err := validateQuality(c.Server.SnapshotQuality, "server.snapshot_quality"); err != nil {
		return err
	}

	if c.Scan.Workers <= 0 {
		return fmt.Errorf("invalid scan workers: %d (must be positive)", c.Scan.Workers)
	}
	if c.Scan.QueueSize <= 0 {
		return fmt.Errorf("invalid scan queue size: %d (must be positive)", c.Scan.QueueSize)
	}
	if c.Scan.MaxProcessingTime <= 0 {
		return fmt.Errorf("invalid scan.max_processing_time: %s (must be positive)", c.Scan.MaxProcessingTime)
	}

	return nil
}

// ToCaptureConfig converts the camera section for capture.NewSource.
func (c *Config) ToCaptureConfig() capture.Config {
	return capture.Config{
		DeviceIDs:              slices.Clone(c.Camera.Devices),
		Format:                 c.Camera.Format,
		OpenTimeout:            c.Camera.OpenTimeout,
		RetryDelay:             c.Camera.RetryDelay,
		MaxConsecutiveFailures: c.Camera.MaxFailures,
		StreamFPS:              c.Camera.StreamFPS,
		StreamWidth:            c.Camera.StreamWidth,
	}
}

// ToStartOptions returns the requested capture mode.
func (c *Config) ToStartOptions() capture.StartOptions {
	return capture.StartOptions{Width: c.Camera.Width, Height: c.Camera.Height, FPS: c.Camera.FPS}
}

// ToPipelineConfig converts the align, ocr and fields sections.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()

	cfg.Align.DetectWidth = c.Align.DetectWidth
	cfg.Align.MinAreaFraction = c.Align.MinAreaFraction
	cfg.Align.MinSkewDegrees = c.Align.MinSkewDegrees
	cfg.Align.MaxSkewDegrees = c.Align.MaxSkewDegrees
	cfg.Align.DebugDir = c.Align.DebugDir

	cfg.OCR.HeaderFraction = c.OCR.HeaderFraction
	cfg.OCR.DecodeBarcodes = c.OCR.Barcodes
	cfg.OCR.Barcode.TryHarder = c.OCR.TryHarder
	cfg.OCR.Barcode.Formats = c.barcodeFormats()

	cfg.Tesseract.Languages = slices.Clone(c.OCR.Languages)
	cfg.Tesseract.TessData = c.OCR.TessData
	cfg.Tesseract.Whitelist = c.OCR.Whitelist

	cfg.Fields = fields.Config{
		HeaderWeight: c.Fields.HeaderWeight,
		BodyWeight:   c.Fields.BodyWeight,
		FooterWeight: c.Fields.FooterWeight,
	}
	return cfg
}

func (c *Config) barcodeFormats() []barcode.Format {
	var out []barcode.Format
	for _, name := range c.OCR.BarcodeFormats {
		if f, ok := barcode.ParseFormat(name); ok {
			out = append(out, f)
		}
	}
	return out
}

// ToScanConfig converts the scan section.
func (c *Config) ToScanConfig() scan.Config {
	return scan.Config{
		Workers:           c.Scan.Workers,
		QueueSize:         c.Scan.QueueSize,
		MaxProcessingTime: c.Scan.MaxProcessingTime,
		RecorderTimeout:   c.Scan.RecorderTimeout,
		RetentionTTL:      c.Scan.RetentionTTL,
		MaxRecords:        c.Scan.MaxRecords,
		JanitorInterval:   c.Scan.JanitorInterval,
	}
}

// ToServerConfig converts the server section.
func (c *Config) ToServerConfig() server.Config {
	rl := c.Server.RateLimit
	return server.Config{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		CORSOrigin:      c.Server.CORSOrigin,
		MaxUploadMB:     c.Server.MaxUploadMB,
		TimeoutSec:      c.Server.TimeoutSec,
		PollAttempts:    c.Server.PollAttempts,
		PollDelay:       c.Server.PollDelay,
		StreamQuality:   c.Server.StreamQuality,
		SnapshotQuality: c.Server.SnapshotQuality,
		MinConfidence:   c.Fields.MinConfidence,
		WSWaitTimeout:   c.Server.WSWaitTimeout,
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     rl.MaxDataPerDayMB * 1024 * 1024,
		},
	}
}

// ShutdownTimeout returns the grace period for draining the server.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %v (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

func validateQuality(q int, name string) error {
	if q < 1 || q > 100 {
		return fmt.Errorf("invalid %s: %d (must be between 1 and 100)", name, q)
	}
	return nil
}
