package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/fields"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.InDelta(t, 0.40, cfg.OCR.HeaderFraction, 1e-9)
	assert.True(t, cfg.OCR.Barcodes)
	assert.Equal(t, []string{"eng", "ind"}, cfg.OCR.Languages)
	assert.Equal(t, []string{"0"}, cfg.Camera.Devices)
	assert.Equal(t, "MJPG", cfg.Camera.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, fields.DefaultMinConfidence, cfg.Fields.MinConfidence)
	assert.Empty(t, cfg.Store.Path)
	assert.False(t, cfg.Server.RateLimit.Enabled)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"header fraction zero", func(c *Config) { c.OCR.HeaderFraction = 0 }, "ocr.header_fraction"},
		{"header fraction one", func(c *Config) { c.OCR.HeaderFraction = 1 }, "ocr.header_fraction"},
		{"no languages", func(c *Config) { c.OCR.Languages = nil }, "ocr.languages"},
		{"unknown barcode format", func(c *Config) { c.OCR.BarcodeFormats = []string{"code128", "maxicode"} }, "maxicode"},
		{"barcode format without decoder", func(c *Config) { c.OCR.BarcodeFormats = []string{"pdf417"} }, "pdf417 has no decoder"},
		{"known barcode formats", func(c *Config) { c.OCR.BarcodeFormats = []string{"code128", "qr"} }, ""},
		{"confidence above one", func(c *Config) { c.Fields.MinConfidence = 1.5 }, "fields.min_confidence"},
		{"negative weight", func(c *Config) { c.Fields.BodyWeight = -0.1 }, "fields.body_weight"},
		{"all weights zero", func(c *Config) {
			c.Fields.HeaderWeight, c.Fields.BodyWeight, c.Fields.FooterWeight = 0, 0, 0
		}, "field weights"},
		{"skew limits inverted", func(c *Config) { c.Align.MaxSkewDegrees = 0.1 }, "align.max_skew_degrees"},
		{"camera without devices", func(c *Config) { c.Camera.Devices = nil }, "camera.devices"},
		{"replay image without devices", func(c *Config) {
			c.Camera.Devices = nil
			c.Camera.Image = "label.png"
		}, ""},
		{"camera disabled without devices", func(c *Config) {
			c.Camera.Devices = nil
			c.Camera.Enabled = false
		}, ""},
		{"negative fps", func(c *Config) { c.Camera.FPS = -1 }, "camera resolution"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload size"},
		{"zero timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, "invalid timeout"},
		{"zero poll attempts", func(c *Config) { c.Server.PollAttempts = 0 }, "poll_attempts"},
		{"stream quality", func(c *Config) { c.Server.StreamQuality = 0 }, "server.stream_quality"},
		{"snapshot quality", func(c *Config) { c.Server.SnapshotQuality = 101 }, "server.snapshot_quality"},
		{"zero workers", func(c *Config) { c.Scan.Workers = 0 }, "scan workers"},
		{"zero queue", func(c *Config) { c.Scan.QueueSize = 0 }, "scan queue size"},
		{"zero processing time", func(c *Config) { c.Scan.MaxProcessingTime = 0 }, "max_processing_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OCR.HeaderFraction = 0.35
	cfg.OCR.Languages = []string{"eng"}
	cfg.OCR.TessData = "/opt/tessdata"
	cfg.OCR.Barcodes = false
	cfg.OCR.BarcodeFormats = []string{"code128", "qr"}
	cfg.Align.DebugDir = "/tmp/align"
	cfg.Align.MaxSkewDegrees = 15
	cfg.Fields.HeaderWeight = 0.7

	pc := cfg.ToPipelineConfig()
	assert.InDelta(t, 0.35, pc.OCR.HeaderFraction, 1e-9)
	assert.False(t, pc.OCR.DecodeBarcodes)
	assert.Equal(t, []barcode.Format{barcode.FormatCode128, barcode.FormatQR}, pc.OCR.Barcode.Formats)
	assert.Equal(t, []string{"eng"}, pc.Tesseract.Languages)
	assert.Equal(t, "/opt/tessdata", pc.Tesseract.TessData)
	assert.Equal(t, "/tmp/align", pc.Align.DebugDir)
	assert.InDelta(t, 15.0, pc.Align.MaxSkewDegrees, 1e-9)
	assert.InDelta(t, 0.7, pc.Fields.HeaderWeight, 1e-9)

	// The converted slices do not alias the config.
	pc.Tesseract.Languages[0] = "deu"
	assert.Equal(t, "eng", cfg.OCR.Languages[0])
}

func TestConfig_ToServerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 9000
	cfg.Server.RateLimit.Enabled = true
	cfg.Server.RateLimit.MaxDataPerDayMB = 2
	cfg.Fields.MinConfidence = 0.65

	sc := cfg.ToServerConfig()
	assert.Equal(t, 9000, sc.Port)
	assert.True(t, sc.RateLimit.Enabled)
	assert.Equal(t, int64(2*1024*1024), sc.RateLimit.MaxDataPerDay)
	assert.InDelta(t, 0.65, sc.MinConfidence, 1e-9)
	assert.Equal(t, cfg.Server.PollAttempts, sc.PollAttempts)
	assert.Equal(t, "localhost:9000", sc.Addr())
}

func TestConfig_ToCaptureAndScanConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Camera.Devices = []string{"/dev/video2", "0"}
	cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS = 1920, 1080, 25
	cfg.Scan.Workers = 4
	cfg.Scan.MaxProcessingTime = 45 * time.Second

	cc := cfg.ToCaptureConfig()
	assert.Equal(t, []string{"/dev/video2", "0"}, cc.DeviceIDs)
	assert.Equal(t, cfg.Camera.MaxFailures, cc.MaxConsecutiveFailures)

	so := cfg.ToStartOptions()
	assert.Equal(t, 1920, so.Width)
	assert.Equal(t, 1080, so.Height)
	assert.Equal(t, 25, so.FPS)

	sc := cfg.ToScanConfig()
	assert.Equal(t, 4, sc.Workers)
	assert.Equal(t, 45*time.Second, sc.MaxProcessingTime)

	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
}
