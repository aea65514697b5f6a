package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"iter"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/capture"
	"github.com/MeKo-Tech/labelscan/internal/fields"
	"github.com/MeKo-Tech/labelscan/internal/scan"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func labelFields() *fields.FieldSet {
	tracking, order := "SPXID012345678901", "2401ABCD1234"
	return &fields.FieldSet{
		TrackingID: &tracking,
		OrderID:    &order,
		Confidence: 0.9,
		Timestamp:  "2025-01-15T10:00:00Z",
		Source:     fields.SourceOCR,
	}
}

var instantProcessor = scan.ProcessorFunc(func(context.Context, image.Image) (*fields.FieldSet, error) {
	return labelFields(), nil
})

func newManager(t *testing.T, cfg scan.Config, p scan.Processor) *scan.Manager {
	t.Helper()
	m, err := scan.NewManager(cfg, p, scan.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

// fakeCamera serves a fixed frame.
type fakeCamera struct {
	frame image.Image
	alive bool
	parts int
}

func (c *fakeCamera) Read() image.Image {
	if c.frame == nil {
		return nil
	}
	return imaging.Clone(c.frame)
}

func (c *fakeCamera) Alive() bool { return c.alive }

func (c *fakeCamera) Session() (capture.SessionInfo, bool) {
	if !c.alive {
		return capture.SessionInfo{}, false
	}
	return capture.SessionInfo{DeviceID: "0", Width: 1280, Height: 720, FPS: 30, Alive: true}, true
}

func (c *fakeCamera) Stream(ctx context.Context, quality int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		jpg, err := utils.EncodeJPEG(c.frame, quality)
		if err != nil {
			return
		}
		for range c.parts {
			if ctx.Err() != nil || !yield(capture.FormatPart(jpg)) {
				return
			}
		}
	}
}

func (c *fakeCamera) Snapshot(quality int) ([]byte, bool, error) {
	if c.frame == nil {
		return nil, false, nil
	}
	jpg, err := utils.EncodeJPEG(c.frame, quality)
	return jpg, true, err
}

func newTestServer(t *testing.T, cfg Config, scans ScanManager, camera Camera) *Server {
	t.Helper()
	srv, err := NewServer(cfg, scans, camera, discardLogger())
	require.NoError(t, err)
	return srv
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollAttempts = 50
	cfg.PollDelay = 10 * time.Millisecond
	return cfg
}

func createTestImage(width, height int) image.Image {
	return imaging.New(width, height, color.NRGBA{R: 240, G: 240, B: 235, A: 255})
}

func encodeImageToPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// createMultipartFormRequest builds a POST /scan request; nil data omits the
// image field.
func createMultipartFormRequest(t *testing.T, data []byte, extra map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if data != nil {
		part, err := writer.CreateFormFile("image", "label.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range extra {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/scan", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
