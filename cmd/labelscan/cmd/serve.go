package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/labelscan/internal/capture"
	"github.com/MeKo-Tech/labelscan/internal/capture/opencv"
	"github.com/MeKo-Tech/labelscan/internal/config"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/scan"
	"github.com/MeKo-Tech/labelscan/internal/server"
	"github.com/MeKo-Tech/labelscan/internal/store"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the camera scanner HTTP server",
	Long: `Start the capture loop and an HTTP server for label scanning.

The server provides the following endpoints:
  GET  /health      - Health and camera status
  GET  /video_feed  - MJPEG preview (multipart/x-mixed-replace)
  GET  /snapshot    - Latest frame as JPEG
  POST /scan        - Scan an uploaded image or the current frame
  GET  /scan/{id}   - Scan result, waiting briefly while pending
  GET  /ws          - WebSocket scan requests with pushed results
  GET  /metrics     - Prometheus metrics

Examples:
  labelscan serve
  labelscan serve --device 0 --device /dev/video2 --width 1920 --height 1080
  labelscan serve --camera-image testdata/label.jpg --port 3000
  labelscan serve --camera=false --store scans.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		return runServer(ctx, cfg, opencv.Open, slog.Default())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()

	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 8080, "server port")
	f.String("cors-origin", "*", "CORS allowed origins")
	f.Int64("max-upload-size", 20, "maximum upload size in MB")
	f.Int("timeout", 30, "request read timeout in seconds")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")

	f.Bool("camera", true, "capture from a camera device")
	f.StringSlice("device", []string{"0"}, "camera device id or path, tried in order (repeatable)")
	f.Int("width", 1280, "requested capture width")
	f.Int("height", 720, "requested capture height")
	f.Int("fps", 30, "requested capture frame rate")
	f.String("camera-image", "", "replay a still image instead of opening a device")

	f.Float64("header-fraction", 0.40, "fraction of the label height holding the identifiers")
	f.StringSlice("language", []string{"eng", "ind"}, "tesseract languages")
	f.Int("workers", 2, "concurrent scan workers")
	f.String("store", "", "bolt database for scan history (empty disables it)")

	f.Bool("rate-limit-enabled", false, "enable rate limiting on POST /scan")
	f.Int("requests-per-minute", 60, "maximum scan requests per minute per client")
	f.Int("requests-per-hour", 1000, "maximum scan requests per hour per client")
	f.Int("max-requests-per-day", 5000, "maximum scan requests per day per client")
	f.Int64("max-data-per-day", 1024, "maximum upload volume per day per client (MB)")

	for flag, key := range map[string]string{
		"host":                 "server.host",
		"port":                 "server.port",
		"cors-origin":          "server.cors_origin",
		"max-upload-size":      "server.max_upload_mb",
		"timeout":              "server.timeout_sec",
		"shutdown-timeout":     "server.shutdown_timeout",
		"camera":               "camera.enabled",
		"device":               "camera.devices",
		"width":                "camera.width",
		"height":               "camera.height",
		"fps":                  "camera.fps",
		"camera-image":         "camera.image",
		"header-fraction":      "ocr.header_fraction",
		"language":             "ocr.languages",
		"workers":              "scan.workers",
		"store":                "store.path",
		"rate-limit-enabled":   "server.rate_limit.enabled",
		"requests-per-minute":  "server.rate_limit.requests_per_minute",
		"requests-per-hour":    "server.rate_limit.requests_per_hour",
		"max-requests-per-day": "server.rate_limit.max_requests_per_day",
		"max-data-per-day":     "server.rate_limit.max_data_per_day_mb",
	} {
		bindFlag(f, flag, key)
	}
}

// runServer wires capture, pipeline, job manager, optional history store
// and the HTTP server, and blocks until ctx is cancelled or the listener
// fails. open is used for real devices; a configured replay image wins.
func runServer(ctx context.Context, cfg *config.Config, open capture.Opener, logger *slog.Logger) error {
	p, err := pipeline.NewBuilderFromConfig(cfg.ToPipelineConfig()).WithLogger(logger).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	opts := []scan.Option{scan.WithLogger(logger)}
	if cfg.Store.Path != "" {
		rec, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open scan store: %w", err)
		}
		defer func() { _ = rec.Close() }()
		opts = append(opts, scan.WithRecorder(rec))
		logger.Info("Scan history enabled", "path", cfg.Store.Path)
	}

	manager, err := scan.NewManager(cfg.ToScanConfig(), p, opts...)
	if err != nil {
		return fmt.Errorf("failed to start scan manager: %w", err)
	}

	var (
		camera server.Camera
		source *capture.Source
	)
	if cfg.Camera.Enabled {
		if cfg.Camera.Image != "" {
			open = capture.ImageOpener(cfg.Camera.Image)
		}
		source = capture.NewSource(cfg.ToCaptureConfig(), open, logger)
		if !source.Start(ctx, cfg.ToStartOptions()) {
			logger.Warn("Camera unavailable, serving uploads only", "devices", cfg.Camera.Devices)
		}
		camera = source
	}

	srv, err := server.NewServer(cfg.ToServerConfig(), manager, camera, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	httpServer := srv.HTTPServer()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting scanner server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err, ok := <-serveErr:
		if ok {
			logger.Error("Server error", "error", err)
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Starting graceful shutdown", "timeout", cfg.ShutdownTimeout())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		_ = httpServer.Close()
	}
	if source != nil {
		source.Stop()
	}
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Error("Scan manager shutdown error", "error", err)
	}
	logger.Info("Graceful shutdown completed")
	return runErr
}
