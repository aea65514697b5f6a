package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"iter"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/capture"
	"github.com/MeKo-Tech/labelscan/internal/fields"
	"github.com/MeKo-Tech/labelscan/internal/scan"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNewServer_RequiresScans(t *testing.T) {
	_, err := NewServer(DefaultConfig(), nil, nil, nil)
	require.Error(t, err)
}

func TestHealthHandler(t *testing.T) {
	m := newManager(t, scan.Config{}, instantProcessor)

	tests := []struct {
		name       string
		camera     Camera
		wantStatus string
		configured bool
		alive      bool
	}{
		{"no camera", nil, "healthy", false, false},
		{"live camera", &fakeCamera{frame: createTestImage(8, 8), alive: true}, "healthy", true, true},
		{"dead camera", &fakeCamera{}, "degraded", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, testConfig(), m, tt.camera).Handler()
			w := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, w.Code)
			resp := decode[HealthResponse](t, w)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.configured, resp.Camera.Configured)
			assert.Equal(t, tt.alive, resp.Camera.Alive)
			assert.Equal(t, tt.alive, resp.Camera.Session != nil)
			assert.NotEmpty(t, resp.Time)
		})
	}

	h := newTestServer(t, testConfig(), m, nil).Handler()
	w := serve(h, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSubmitAndPoll_Upload(t *testing.T) {
	m := newManager(t, scan.Config{}, instantProcessor)
	h := newTestServer(t, testConfig(), m, nil).Handler()

	w := serve(h, createMultipartFormRequest(t, encodeImageToPNG(t, createTestImage(320, 240)), nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	sub := decode[SubmitResponse](t, w)
	require.NotEmpty(t, sub.ScanID)
	assert.Equal(t, scan.StatusPending, sub.Status)

	w = serve(h, httptest.NewRequest(http.MethodGet, "/scan/"+sub.ScanID, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, sub.ScanID, raw["scan_id"])
	assert.Equal(t, "completed", raw["status"])
	fs, ok := raw["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SPXID012345678901", fs["tracking_id"])
	assert.Contains(t, fs, "sort_code", "unknown fields are present as null")
	assert.Nil(t, fs["sort_code"])
	outcome, ok := raw["outcome"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(fields.OutcomeOK), outcome["kind"])
}

func TestSubmit_RawImageBody(t *testing.T) {
	m := newManager(t, scan.Config{}, instantProcessor)
	h := newTestServer(t, testConfig(), m, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/scan", bytes.NewReader(encodeImageToPNG(t, createTestImage(64, 64))))
	req.Header.Set("Content-Type", "image/png")
	w := serve(h, req)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func TestSubmit_CameraFrame(t *testing.T) {
	m := newManager(t, scan.Config{}, instantProcessor)

	tests := []struct {
		name   string
		camera Camera
		req    func() *http.Request
		want   int
	}{
		{
			name:   "empty body uses camera",
			camera: &fakeCamera{frame: createTestImage(64, 48), alive: true},
			req:    func() *http.Request { return httptest.NewRequest(http.MethodPost, "/scan", nil) },
			want:   http.StatusAccepted,
		},
		{
			name:   "form without image uses camera",
			camera: &fakeCamera{frame: createTestImage(64, 48), alive: true},
			req:    func() *http.Request { return createMultipartFormRequest(t, nil, map[string]string{"note": "x"}) },
			want:   http.StatusAccepted,
		},
		{
			name:   "camera without frame",
			camera: &fakeCamera{alive: true},
			req:    func() *http.Request { return httptest.NewRequest(http.MethodPost, "/scan", nil) },
			want:   http.StatusServiceUnavailable,
		},
		{
			name: "no camera and no image",
			req:  func() *http.Request { return httptest.NewRequest(http.MethodPost, "/scan", nil) },
			want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, testConfig(), m, tt.camera).Handler()
			w := serve(h, tt.req())
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want != http.StatusAccepted {
				assert.NotEmpty(t, decode[ErrorResponse](t, w).Error)
			}
		})
	}
}

func TestSubmit_BadUploads(t *testing.T) {
	m := newManager(t, scan.Config{}, instantProcessor)
	cfg := testConfig()
	cfg.MaxUploadMB = 1
	h := newTestServer(t, cfg, m, nil).Handler()

	w := serve(h, createMultipartFormRequest(t, []byte("not an image"), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid image format", decode[ErrorResponse](t, w).Error)

	big := bytes.Repeat([]byte{0xff}, 2*1024*1024)
	w = serve(h, createMultipartFormRequest(t, big, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve(h, httptest.NewRequest(http.MethodGet, "/scan", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	assert.Zero(t, m.Stats().Pending+m.Stats().Completed+m.Stats().Failed)
}

func TestSubmit_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	blocking := scan.ProcessorFunc(func(ctx context.Context, _ image.Image) (*fields.FieldSet, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return labelFields(), nil
	})
	m := newManager(t, scan.Config{Workers: 1, QueueSize: 1}, blocking)
	defer close(release)
	h := newTestServer(t, testConfig(), m, &fakeCamera{frame: createTestImage(32, 32), alive: true}).Handler()

	post := func() *httptest.ResponseRecorder {
		return serve(h, httptest.NewRequest(http.MethodPost, "/scan", nil))
	}
	require.Equal(t, http.StatusAccepted, post().Code)
	<-started
	require.Equal(t, http.StatusAccepted, post().Code)

	w := post()
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "scan queue is full", decode[ErrorResponse](t, w).Error)
}

func TestGetScan(t *testing.T) {
	release := make(chan struct{})
	p := scan.ProcessorFunc(func(ctx context.Context, img image.Image) (*fields.FieldSet, error) {
		if img.Bounds().Dx() == 13 {
			return nil, errors.New("extraction failed: engine down")
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return labelFields(), nil
	})
	m := newManager(t, scan.Config{Workers: 2}, p)
	defer close(release)

	cfg := testConfig()
	cfg.PollAttempts = 3
	cfg.PollDelay = 5 * time.Millisecond
	h := newTestServer(t, cfg, m, nil).Handler()

	t.Run("unknown", func(t *testing.T) {
		w := serve(h, httptest.NewRequest(http.MethodGet, "/scan/does-not-exist", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("pending after bounded wait", func(t *testing.T) {
		id, err := m.Submit(createTestImage(20, 20))
		require.NoError(t, err)
		start := time.Now()
		w := serve(h, httptest.NewRequest(http.MethodGet, "/scan/"+id, nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
		resp := decode[PendingResponse](t, w)
		assert.Equal(t, scan.StatusPending, resp.Status)
		assert.True(t, resp.Timeout)
		assert.Equal(t, id, resp.ScanID)
	})

	t.Run("failed", func(t *testing.T) {
		id, err := m.Submit(createTestImage(13, 13))
		require.NoError(t, err)
		_, err = m.Wait(context.Background(), id)
		require.NoError(t, err)

		w := serve(h, httptest.NewRequest(http.MethodGet, "/scan/"+id, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var raw map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
		assert.Equal(t, "failed", raw["status"])
		assert.Contains(t, raw["error"], "engine down")
		assert.NotContains(t, raw, "outcome")
	})

	t.Run("method", func(t *testing.T) {
		w := serve(h, httptest.NewRequest(http.MethodDelete, "/scan/x", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestScanResponse_EmptyOutcome(t *testing.T) {
	srv := newTestServer(t, testConfig(), newManager(t, scan.Config{}, instantProcessor), nil)
	resp := srv.scanResponse(scan.Record{ID: "a", Status: scan.StatusCompleted, Fields: &fields.FieldSet{Confidence: 0.99}})
	require.NotNil(t, resp.Outcome)
	assert.Equal(t, fields.OutcomeEmpty, resp.Outcome.Kind)
}

func TestSnapshotHandler(t *testing.T) {
	m := newManager(t, scan.Config{}, instantProcessor)

	w := serve(newTestServer(t, testConfig(), m, nil).Handler(), httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(newTestServer(t, testConfig(), m, &fakeCamera{alive: true}).Handler(), httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	cam := &fakeCamera{frame: createTestImage(160, 120), alive: true}
	w = serve(newTestServer(t, testConfig(), m, cam).Handler(), httptest.NewRequest(http.MethodGet, "/snapshot?quality=50", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 160, cfg.Width)
}

func TestVideoFeedHandler(t *testing.T) {
	m := newManager(t, scan.Config{}, instantProcessor)

	w := serve(newTestServer(t, testConfig(), m, &fakeCamera{}).Handler(), httptest.NewRequest(http.MethodGet, "/video_feed", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	cam := &fakeCamera{frame: createTestImage(64, 48), alive: true, parts: 3}
	w = serve(newTestServer(t, testConfig(), m, cam).Handler(), httptest.NewRequest(http.MethodGet, "/video_feed?quality=40", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", w.Header().Get("Content-Type"))
	assert.Equal(t, 3, strings.Count(w.Body.String(), "--frame\r\nContent-Type: image/jpeg\r\n"))
	assert.True(t, w.Flushed)
}

func TestQualityParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 70},
		{"quality=40", 40},
		{"quality=500", 100},
		{"quality=-3", 70},
		{"quality=abc", 70},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/video_feed?"+tt.query, nil)
		assert.Equal(t, tt.want, qualityParam(req, 70), tt.query)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := newManager(t, scan.Config{}, instantProcessor)
	h := newTestServer(t, testConfig(), m, nil).Handler()
	serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `labelscan_http_requests_total{endpoint="/health",method="GET",status="200"}`)
}

// heldCamera sends one frame and then holds the stream open until the request ends.
type heldCamera struct {
	fakeCamera
	streaming chan struct{}
}

func (c *heldCamera) Stream(ctx context.Context, quality int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		jpg, err := utils.EncodeJPEG(c.frame, quality)
		if err != nil || !yield(capture.FormatPart(jpg)) {
			return
		}
		close(c.streaming)
		<-ctx.Done()
	}
}

func TestHTTPServer_ShutdownEndsVideoFeed(t *testing.T) {
	m := newManager(t, scan.Config{}, instantProcessor)
	cam := &heldCamera{
		fakeCamera: fakeCamera{frame: createTestImage(64, 48), alive: true},
		streaming:  make(chan struct{}),
	}
	hs := newTestServer(t, testConfig(), m, cam).HTTPServer()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveErr := make(chan error, 1)
	go func() { serveErr <- hs.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/video_feed")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-cam.streaming:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, hs.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, <-serveErr, http.ErrServerClosed)
}
