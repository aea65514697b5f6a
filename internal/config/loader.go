package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "labelscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "LABELSCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags
// bound by the CLI are visible to it.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewIsolatedLoader creates a loader with its own viper instance.
func NewIsolatedLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Load reads the first config file found on the search path, then applies
// environment variables, and validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load minus the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path. An empty
// path falls back to the search path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation loads a specific file without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file on the search path; defaults and env vars still apply.
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for flag binding.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// LABELSCAN_SERVER_PORT, LABELSCAN_OCR_HEADER_FRACTION, ...
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key. AutomaticEnv only reaches keys viper
// knows about, so a key without a default cannot be set from the
// environment.
func (l *Loader) setDefaults() {
	for key, value := range defaultSettings() {
		l.v.SetDefault(key, value)
	}
}

// defaultSettings flattens DefaultConfig into dotted viper keys. Durations
// are rendered as strings so written config files stay readable.
func defaultSettings() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"log_level": d.LogLevel,
		"verbose":   d.Verbose,

		"camera.enabled":      d.Camera.Enabled,
		"camera.devices":      d.Camera.Devices,
		"camera.format":       d.Camera.Format,
		"camera.width":        d.Camera.Width,
		"camera.height":       d.Camera.Height,
		"camera.fps":          d.Camera.FPS,
		"camera.image":        d.Camera.Image,
		"camera.open_timeout": durationString(d.Camera.OpenTimeout),
		"camera.retry_delay":  durationString(d.Camera.RetryDelay),
		"camera.max_failures": d.Camera.MaxFailures,
		"camera.stream_fps":   d.Camera.StreamFPS,
		"camera.stream_width": d.Camera.StreamWidth,

		"align.detect_width":      d.Align.DetectWidth,
		"align.min_area_fraction": d.Align.MinAreaFraction,
		"align.min_skew_degrees":  d.Align.MinSkewDegrees,
		"align.max_skew_degrees":  d.Align.MaxSkewDegrees,
		"align.debug_dir":         d.Align.DebugDir,

		"ocr.header_fraction": d.OCR.HeaderFraction,
		"ocr.languages":       d.OCR.Languages,
		"ocr.tessdata":        d.OCR.TessData,
		"ocr.whitelist":       d.OCR.Whitelist,
		"ocr.barcodes":        d.OCR.Barcodes,
		"ocr.barcode_formats": []string{},
		"ocr.try_harder":      d.OCR.TryHarder,

		"fields.header_weight":  d.Fields.HeaderWeight,
		"fields.body_weight":    d.Fields.BodyWeight,
		"fields.footer_weight":  d.Fields.FooterWeight,
		"fields.min_confidence": d.Fields.MinConfidence,

		"scan.workers":             d.Scan.Workers,
		"scan.queue_size":          d.Scan.QueueSize,
		"scan.max_processing_time": durationString(d.Scan.MaxProcessingTime),
		"scan.recorder_timeout":    durationString(d.Scan.RecorderTimeout),
		"scan.retention_ttl":       durationString(d.Scan.RetentionTTL),
		"scan.max_records":         d.Scan.MaxRecords,
		"scan.janitor_interval":    durationString(d.Scan.JanitorInterval),

		"server.host":             d.Server.Host,
		"server.port":             d.Server.Port,
		"server.cors_origin":      d.Server.CORSOrigin,
		"server.max_upload_mb":    d.Server.MaxUploadMB,
		"server.timeout_sec":      d.Server.TimeoutSec,
		"server.shutdown_timeout": d.Server.ShutdownTimeout,
		"server.poll_attempts":    d.Server.PollAttempts,
		"server.poll_delay":       durationString(d.Server.PollDelay),
		"server.stream_quality":   d.Server.StreamQuality,
		"server.snapshot_quality": d.Server.SnapshotQuality,
		"server.ws_wait_timeout":  durationString(d.Server.WSWaitTimeout),

		"server.rate_limit.enabled":              d.Server.RateLimit.Enabled,
		"server.rate_limit.requests_per_minute":  d.Server.RateLimit.RequestsPerMinute,
		"server.rate_limit.requests_per_hour":    d.Server.RateLimit.RequestsPerHour,
		"server.rate_limit.max_requests_per_day": d.Server.RateLimit.MaxRequestsPerDay,
		"server.rate_limit.max_data_per_day_mb":  d.Server.RateLimit.MaxDataPerDayMB,

		"store.path": d.Store.Path,
	}
}

func durationString(d time.Duration) string { return d.String() }

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// ResolvedYAML renders the resolved settings as YAML.
func (l *Loader) ResolvedYAML() ([]byte, error) {
	return yaml.Marshal(l.v.AllSettings())
}

// GenerateDefaultConfigFile writes the defaults as YAML. It refuses to
// overwrite an existing file.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	loader := NewIsolatedLoader()
	loader.setDefaults()
	out, err := loader.ResolvedYAML()
	if err != nil {
		return fmt.Errorf("failed to render defaults: %w", err)
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	if _, err := f.Write(out); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return f.Close()
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists && configDir != "" {
		paths = append(paths, filepath.Join(configDir, "labelscan"))
	} else if homeErr == nil {
		paths = append(paths, filepath.Join(home, ".config", "labelscan"))
	}

	return append(paths, "/etc/labelscan")
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo() {
	fmt.Printf("Configuration file used: %s\n", l.GetConfigFileUsed())
	fmt.Printf("Configuration search paths: %v\n", GetConfigSearchPaths())
	fmt.Printf("Environment prefix: %s\n", EnvPrefix)
}
