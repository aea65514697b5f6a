// Package server exposes the camera, the scan manager and the metrics over
// HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/labelscan/internal/capture"
	"github.com/MeKo-Tech/labelscan/internal/fields"
	"github.com/MeKo-Tech/labelscan/internal/scan"
)

// ScanManager is the part of *scan.Manager the server uses.
type ScanManager interface {
	Submit(img image.Image) (string, error)
	Get(id string) (scan.Record, bool)
	Wait(ctx context.Context, id string) (scan.Record, error)
	Stats() scan.Stats
}

// Camera is the part of *capture.Source the server uses.
type Camera interface {
	Read() image.Image
	Alive() bool
	Session() (capture.SessionInfo, bool)
	Stream(ctx context.Context, quality int) iter.Seq[[]byte]
	Snapshot(quality int) ([]byte, bool, error)
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	PollAttempts    uint
	PollDelay       time.Duration
	StreamQuality   int
	SnapshotQuality int
	MinConfidence   float64
	WSWaitTimeout   time.Duration
	RateLimit       RateLimitConfig
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8080,
		CORSOrigin:      "*",
		MaxUploadMB:     20,
		TimeoutSec:      30,
		PollAttempts:    10,
		PollDelay:       200 * time.Millisecond,
		StreamQuality:   70,
		SnapshotQuality: 90,
		MinConfidence:   fields.DefaultMinConfidence,
		WSWaitTimeout:   60 * time.Second,
	}
}

// Addr is the listen address.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Server holds the HTTP server state and dependencies.
type Server struct {
	cfg         Config
	scans       ScanManager
	camera      Camera
	rateLimiter *RateLimiter
	corsOrigin  string
	logger      *slog.Logger
}

// NewServer wires the handlers to scans and, optionally, a camera. A nil
// camera makes the stream and snapshot endpoints answer 503 and POST /scan
// require an uploaded image.
func NewServer(cfg Config, scans ScanManager, camera Camera, logger *slog.Logger) (*Server, error) {
	if scans == nil {
		return nil, errors.New("server: scan manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = d.MaxUploadMB
	}
	if cfg.PollAttempts == 0 {
		cfg.PollAttempts = 1
	}
	if cfg.PollDelay < 0 {
		cfg.PollDelay = 0
	}
	if cfg.StreamQuality <= 0 {
		cfg.StreamQuality = d.StreamQuality
	}
	if cfg.SnapshotQuality <= 0 {
		cfg.SnapshotQuality = d.SnapshotQuality
	}
	if cfg.WSWaitTimeout <= 0 {
		cfg.WSWaitTimeout = d.WSWaitTimeout
	}
	s := &Server{
		cfg:        cfg,
		scans:      scans,
		camera:     camera,
		corsOrigin: cfg.CORSOrigin,
		logger:     logger,
	}
	if cfg.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit)
	}
	return s, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/snapshot", s.corsMiddleware(s.snapshotHandler))
	mux.HandleFunc("/video_feed", s.corsMiddleware(s.videoFeedHandler))
	mux.HandleFunc("/scan", s.corsMiddleware(s.rateLimitMiddleware(s.submitScanHandler)))
	mux.HandleFunc("/scan/{id}", s.corsMiddleware(s.getScanHandler))
	mux.HandleFunc("/ws", s.scanWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with every route installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// HTTPServer builds the *http.Server for cfg. The write timeout is left
// unset because /video_feed streams indefinitely; instead every request
// context is cancelled once Shutdown starts, so open streams end and their
// connections can go idle.
func (s *Server) HTTPServer() *http.Server {
	base, cancel := context.WithCancel(context.Background())
	hs := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(max(s.cfg.TimeoutSec, 1)) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	hs.RegisterOnShutdown(cancel)
	return hs
}
