// Package capture owns the camera: it negotiates a device, keeps the latest
// frame in a single slot and re-encodes it for MJPEG streaming.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
)

// Device is an opened camera. Read returns a frame the caller owns.
type Device interface {
	SetFormat(fourcc string) error
	SetResolution(width, height, fps int) error
	Read() (image.Image, error)
	Close() error
}

// Opener opens the device named by id.
type Opener func(ctx context.Context, id string) (Device, error)

// Config controls device negotiation and the capture loop.
type Config struct {
	DeviceIDs              []string
	Format                 string
	OpenTimeout            time.Duration
	JoinTimeout            time.Duration
	RetryDelay             time.Duration
	MaxConsecutiveFailures int
	StreamFPS              int
	StreamWidth            int
}

// DefaultConfig returns the settings used by the serve command.
func DefaultConfig() Config {
	return Config{
		DeviceIDs:              []string{"0"},
		Format:                 "MJPG",
		OpenTimeout:            3 * time.Second,
		JoinTimeout:            2 * time.Second,
		RetryDelay:             100 * time.Millisecond,
		MaxConsecutiveFailures: 5,
		StreamFPS:              15,
		StreamWidth:            640,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.DeviceIDs) == 0 {
		c.DeviceIDs = d.DeviceIDs
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.StreamFPS <= 0 {
		c.StreamFPS = d.StreamFPS
	}
	if c.StreamWidth <= 0 {
		c.StreamWidth = d.StreamWidth
	}
	return c
}

// StartOptions are the requested capture parameters.
type StartOptions struct {
	Width  int
	Height int
	FPS    int
}

// SessionInfo describes the open capture session.
type SessionInfo struct {
	DeviceID  string    `json:"device_id"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	FPS       int       `json:"fps"`
	Alive     bool      `json:"alive"`
	StartedAt time.Time `json:"started_at"`
	LastRead  time.Time `json:"last_read"`
}

type session struct {
	info      SessionInfo
	dev       Device
	cancel    context.CancelFunc
	done      chan struct{}
	alive     atomic.Bool
	closeOnce sync.Once
}

func (s *session) closeDevice(logger *slog.Logger) {
	s.closeOnce.Do(func() {
		if err := s.dev.Close(); err != nil {
			logger.Warn("Failed to close camera", "device", s.info.DeviceID, "error", err)
		}
	})
}

// Source publishes frames from one camera at a time.
type Source struct {
	cfg    Config
	open   Opener
	logger *slog.Logger

	mu   sync.Mutex // serialises Start and Stop
	sess atomic.Pointer[session]

	frameMu  sync.RWMutex
	frame    image.Image
	frameAt  time.Time
	frameSeq uint64
}

// NewSource creates a Source that opens devices through open.
func NewSource(cfg Config, open Opener, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{cfg: cfg.withDefaults(), open: open, logger: logger}
}

// Config returns the effective configuration.
func (s *Source) Config() Config { return s.cfg }

// Start negotiates the first device that accepts opts and starts the capture
// loop. It reports whether a session is running; hardware problems are
// logged, never returned.
func (s *Source) Start(ctx context.Context, opts StartOptions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.sess.Load(); cur != nil {
		if cur.alive.Load() {
			return true
		}
		s.stopLocked()
	}
	if s.open == nil {
		s.logger.Warn("No camera backend configured")
		return false
	}

	for _, id := range s.cfg.DeviceIDs {
		if ctx.Err() != nil {
			return false
		}
		dev, first, err := s.negotiate(ctx, id, opts)
		if err != nil {
			s.logger.Warn("Camera negotiation failed", "device", id, "error", err)
			continue
		}

		loopCtx, cancel := context.WithCancel(context.Background())
		sess := &session{
			info: SessionInfo{
				DeviceID:  id,
				Width:     opts.Width,
				Height:    opts.Height,
				FPS:       opts.FPS,
				StartedAt: time.Now(),
			},
			dev:    dev,
			cancel: cancel,
			done:   make(chan struct{}),
		}
		sess.alive.Store(true)
		s.publish(first)
		s.sess.Store(sess)
		go s.loop(loopCtx, sess)

		s.logger.Info("Camera started",
			"device", id,
			"width", opts.Width,
			"height", opts.Height,
			"fps", opts.FPS,
			"format", s.cfg.Format)
		return true
	}
	return false
}

// negotiated is the outcome of one device handshake.
type negotiated struct {
	dev   Device
	first image.Image
	err   error
}

// negotiate runs the whole handshake for id under OpenTimeout. A device that
// stalls in open, a property call or a read leaves Start after the timeout;
// when the stalled call finally returns, the device is closed.
func (s *Source) negotiate(ctx context.Context, id string, opts StartOptions) (Device, image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpenTimeout)
	defer cancel()

	ch := make(chan negotiated, 1)
	go func() {
		dev, first, err := s.handshake(ctx, id, opts)
		ch <- negotiated{dev: dev, first: first, err: err}
	}()

	select {
	case r := <-ch:
		return r.dev, r.first, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.dev != nil {
				if err := r.dev.Close(); err != nil {
					s.logger.Debug("Close after late negotiation", "device", id, "error", err)
				}
			}
		}()
		return nil, nil, fmt.Errorf("negotiation timed out after %s", s.cfg.OpenTimeout)
	}
}

// handshake opens id, then sets the format, then the resolution, then reads
// one discarded and one accepted frame. On failure the device is closed.
func (s *Source) handshake(ctx context.Context, id string, opts StartOptions) (Device, image.Image, error) {
	dev, err := s.open(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	if dev == nil {
		return nil, nil, errors.New("open: no device")
	}
	fail := func(step string, err error) (Device, image.Image, error) {
		if cerr := dev.Close(); cerr != nil {
			s.logger.Debug("Close after failed negotiation", "device", id, "error", cerr)
		}
		return nil, nil, fmt.Errorf("%s: %w", step, err)
	}

	if err := dev.SetFormat(s.cfg.Format); err != nil {
		return fail("set format", err)
	}
	if err := dev.SetResolution(opts.Width, opts.Height, opts.FPS); err != nil {
		return fail("set resolution", err)
	}
	if _, err := dev.Read(); err != nil {
		return fail("warm-up read", err)
	}
	img, err := dev.Read()
	if err != nil {
		return fail("handshake read", err)
	}
	if img == nil || img.Bounds().Empty() {
		return fail("handshake read", errors.New("empty frame"))
	}
	if err := ctx.Err(); err != nil {
		return fail("handshake", err)
	}
	return dev, img, nil
}

func (s *Source) loop(ctx context.Context, sess *session) {
	defer close(sess.done)
	defer sess.closeDevice(s.logger)
	defer sess.alive.Store(false)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		img, err := sess.dev.Read()
		if err == nil && (img == nil || img.Bounds().Empty()) {
			err = errors.New("empty frame")
		}
		if err != nil {
			failures++
			if failures >= s.cfg.MaxConsecutiveFailures {
				s.logger.Error("Camera stopped after repeated read failures",
					"device", sess.info.DeviceID,
					"failures", failures,
					"error", err)
				s.clearFrame()
				return
			}
			s.logger.Debug("Camera read failed", "device", sess.info.DeviceID, "attempt", failures, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
			continue
		}
		failures = 0
		if ctx.Err() != nil {
			return
		}
		s.publish(img)
	}
}

func (s *Source) publish(img image.Image) {
	s.frameMu.Lock()
	s.frame = img
	s.frameAt = time.Now()
	s.frameSeq++
	s.frameMu.Unlock()
}

// Stop cancels the capture loop, waits up to JoinTimeout for it, closes the
// device and clears the published frame. Safe to call repeatedly.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Source) stopLocked() {
	sess := s.sess.Swap(nil)
	if sess == nil {
		return
	}
	sess.cancel()
	select {
	case <-sess.done:
		sess.closeDevice(s.logger)
	case <-time.After(s.cfg.JoinTimeout):
		// The loop may still be inside Read; its deferred close releases
		// the device once Read returns.
		s.logger.Warn("Capture loop did not exit in time", "device", sess.info.DeviceID, "timeout", s.cfg.JoinTimeout)
	}
	sess.alive.Store(false)

	s.clearFrame()
	s.logger.Info("Camera stopped", "device", sess.info.DeviceID)
}

func (s *Source) clearFrame() {
	s.frameMu.Lock()
	s.frame = nil
	s.frameAt = time.Time{}
	s.frameMu.Unlock()
}

// Alive reports whether a capture loop is running.
func (s *Source) Alive() bool {
	sess := s.sess.Load()
	return sess != nil && sess.alive.Load()
}

// Session returns information about the current session.
func (s *Source) Session() (SessionInfo, bool) {
	sess := s.sess.Load()
	if sess == nil {
		return SessionInfo{}, false
	}
	info := sess.info
	info.Alive = sess.alive.Load()
	s.frameMu.RLock()
	info.LastRead = s.frameAt
	s.frameMu.RUnlock()
	return info, true
}

// Read returns a copy of the latest frame, or nil when none is available.
func (s *Source) Read() image.Image {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	if s.frame == nil {
		return nil
	}
	return imaging.Clone(s.frame)
}

func (s *Source) latest() (image.Image, uint64) {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frame, s.frameSeq
}
