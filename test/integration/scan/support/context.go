package support

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/capture"
	"github.com/MeKo-Tech/labelscan/internal/ocr/ocrtest"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/scan"
	"github.com/MeKo-Tech/labelscan/internal/server"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// TestContext holds the state of one scenario: the scanner under test and
// the last HTTP exchange.
type TestContext struct {
	T *testing.T

	// Scanner setup, filled by Given steps before the scanner starts.
	Label      ocrtest.Label
	LabelSpec  testutil.LabelSpec
	Decoder    barcode.Backend
	EngineErr  error
	ServerConf server.Config

	// Running scanner.
	Engine  *ocrtest.ScriptedEngine
	Manager *scan.Manager
	Source  *capture.Source
	Server  *httptest.Server

	// HTTP response state.
	LastStatus  int
	LastBody    []byte
	LastHeaders http.Header

	// Scan ids in submission order.
	ScanIDs []string
}

// NewTestContext returns a context with a standard label and a decoder that
// finds nothing, so identifiers come from OCR unless a step says otherwise.
func NewTestContext(t *testing.T) *TestContext {
	cfg := server.DefaultConfig()
	cfg.PollAttempts = 100
	cfg.PollDelay = 20 * time.Millisecond
	return &TestContext{
		T:          t,
		Label:      ocrtest.DefaultLabel(),
		LabelSpec:  testutil.DefaultLabelSpec(),
		Decoder:    ocrtest.StaticDecoder{},
		ServerConf: cfg,
	}
}

// StartScanner builds the pipeline and job manager and serves them. frame,
// when non-nil, is shown by a replay camera.
func (tc *TestContext) StartScanner(frame image.Image) error {
	if tc.Server != nil {
		return errors.New("scanner already running")
	}
	logger := slog.New(slog.DiscardHandler)

	tc.Engine = ocrtest.NewScriptedEngine(tc.Label)
	if tc.EngineErr != nil {
		tc.Engine.FailWith(tc.EngineErr)
	}
	p, err := pipeline.NewBuilder().
		WithEngine(tc.Engine).
		WithDecoder(tc.Decoder).
		WithParallelWorkers(1).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	// One worker: the scripted engine answers zones in call order.
	tc.Manager, err = scan.NewManager(scan.Config{Workers: 1, QueueSize: 16}, p, scan.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to start scan manager: %w", err)
	}

	var camera server.Camera
	if frame != nil {
		cfg := capture.DefaultConfig()
		cfg.StreamFPS = 30
		tc.Source = capture.NewSource(cfg, func(context.Context, string) (capture.Device, error) {
			return capture.NewImageDevice(frame), nil
		}, logger)
		b := frame.Bounds()
		if !tc.Source.Start(context.Background(), capture.StartOptions{Width: b.Dx(), Height: b.Dy(), FPS: 30}) {
			return errors.New("replay camera did not start")
		}
		camera = tc.Source
	}

	srv, err := server.NewServer(tc.ServerConf, tc.Manager, camera, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	tc.Server = httptest.NewServer(srv.Handler())
	return nil
}

// Cleanup stops everything StartScanner started.
func (tc *TestContext) Cleanup() error {
	if tc.Server != nil {
		tc.Server.Close()
		tc.Server = nil
	}
	if tc.Source != nil {
		tc.Source.Stop()
		tc.Source = nil
	}
	if tc.Manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := tc.Manager.Close(ctx)
		tc.Manager = nil
		return err
	}
	return nil
}
