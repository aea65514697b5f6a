//nolint:lll
package config

import "time"

// Config represents the complete configuration for labelscan.
// It covers the serve, scan and history commands and is loaded from
// configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Camera CameraConfig `mapstructure:"camera" yaml:"camera" json:"camera"`
	Align  AlignConfig  `mapstructure:"align" yaml:"align" json:"align"`
	OCR    OCRConfig    `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Fields FieldsConfig `mapstructure:"fields" yaml:"fields" json:"fields"`
	Scan   ScanConfig   `mapstructure:"scan" yaml:"scan" json:"scan"`
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store" json:"store"`
}

// CameraConfig contains frame capture settings.
type CameraConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Devices     []string      `mapstructure:"devices" yaml:"devices" json:"devices"`
	Format      string        `mapstructure:"format" yaml:"format" json:"format"`
	Width       int           `mapstructure:"width" yaml:"width" json:"width"`
	Height      int           `mapstructure:"height" yaml:"height" json:"height"`
	FPS         int           `mapstructure:"fps" yaml:"fps" json:"fps"`
	Image       string        `mapstructure:"image" yaml:"image" json:"image"` // replay a still image instead of a device
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout" json:"open_timeout"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
	MaxFailures int           `mapstructure:"max_failures" yaml:"max_failures" json:"max_failures"`
	StreamFPS   int           `mapstructure:"stream_fps" yaml:"stream_fps" json:"stream_fps"`
	StreamWidth int           `mapstructure:"stream_width" yaml:"stream_width" json:"stream_width"`
}

// AlignConfig contains label alignment settings.
type AlignConfig struct {
	DetectWidth     int     `mapstructure:"detect_width" yaml:"detect_width" json:"detect_width"`
	MinAreaFraction float64 `mapstructure:"min_area_fraction" yaml:"min_area_fraction" json:"min_area_fraction"`
	MinSkewDegrees  float64 `mapstructure:"min_skew_degrees" yaml:"min_skew_degrees" json:"min_skew_degrees"`
	MaxSkewDegrees  float64 `mapstructure:"max_skew_degrees" yaml:"max_skew_degrees" json:"max_skew_degrees"`
	DebugDir        string  `mapstructure:"debug_dir" yaml:"debug_dir" json:"debug_dir"`
}

// OCRConfig contains zonal OCR and barcode settings.
type OCRConfig struct {
	HeaderFraction float64  `mapstructure:"header_fraction" yaml:"header_fraction" json:"header_fraction"`
	Languages      []string `mapstructure:"languages" yaml:"languages" json:"languages"`
	TessData       string   `mapstructure:"tessdata" yaml:"tessdata" json:"tessdata"`
	Whitelist      string   `mapstructure:"whitelist" yaml:"whitelist" json:"whitelist"`
	Barcodes       bool     `mapstructure:"barcodes" yaml:"barcodes" json:"barcodes"`
	BarcodeFormats []string `mapstructure:"barcode_formats" yaml:"barcode_formats" json:"barcode_formats"`
	TryHarder      bool     `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
}

// FieldsConfig contains field parser weights and the outcome threshold.
type FieldsConfig struct {
	HeaderWeight  float64 `mapstructure:"header_weight" yaml:"header_weight" json:"header_weight"`
	BodyWeight    float64 `mapstructure:"body_weight" yaml:"body_weight" json:"body_weight"`
	FooterWeight  float64 `mapstructure:"footer_weight" yaml:"footer_weight" json:"footer_weight"`
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
}

// ScanConfig contains job manager settings.
type ScanConfig struct {
	Workers           int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time" yaml:"max_processing_time" json:"max_processing_time"`
	RecorderTimeout   time.Duration `mapstructure:"recorder_timeout" yaml:"recorder_timeout" json:"recorder_timeout"`
	RetentionTTL      time.Duration `mapstructure:"retention_ttl" yaml:"retention_ttl" json:"retention_ttl"`
	MaxRecords        int           `mapstructure:"max_records" yaml:"max_records" json:"max_records"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval" yaml:"janitor_interval" json:"janitor_interval"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int64           `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	PollAttempts    uint            `mapstructure:"poll_attempts" yaml:"poll_attempts" json:"poll_attempts"`
	PollDelay       time.Duration   `mapstructure:"poll_delay" yaml:"poll_delay" json:"poll_delay"`
	StreamQuality   int             `mapstructure:"stream_quality" yaml:"stream_quality" json:"stream_quality"`
	SnapshotQuality int             `mapstructure:"snapshot_quality" yaml:"snapshot_quality" json:"snapshot_quality"`
	WSWaitTimeout   time.Duration   `mapstructure:"ws_wait_timeout" yaml:"ws_wait_timeout" json:"ws_wait_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client limits for scan submissions.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// StoreConfig contains scan history persistence settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"` // empty disables the history store
}
