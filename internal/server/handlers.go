package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/MeKo-Tech/labelscan/internal/capture"
	"github.com/MeKo-Tech/labelscan/internal/fields"
	"github.com/MeKo-Tech/labelscan/internal/scan"
	"github.com/MeKo-Tech/labelscan/internal/utils"
	"github.com/MeKo-Tech/labelscan/internal/version"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Time    string       `json:"time"`
	Camera  CameraStatus `json:"camera"`
	Scans   scan.Stats   `json:"scans"`
}

// CameraStatus reports capture liveness.
type CameraStatus struct {
	Configured bool                 `json:"configured"`
	Alive      bool                 `json:"alive"`
	Session    *capture.SessionInfo `json:"session,omitempty"`
}

// SubmitResponse is returned by POST /scan.
type SubmitResponse struct {
	ScanID string      `json:"scan_id"`
	Status scan.Status `json:"status"`
}

// PendingResponse is returned by GET /scan/{id} when the scan is still
// running after the bounded wait.
type PendingResponse struct {
	ScanID  string      `json:"scan_id"`
	Status  scan.Status `json:"status"`
	Timeout bool        `json:"timeout"`
}

// ScanResponse is a terminal scan record plus the presentation outcome.
type ScanResponse struct {
	scan.Record
	Outcome *fields.Outcome `json:"outcome,omitempty"`
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

var errStillPending = errors.New("scan still pending")

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Scans:   s.scans.Stats(),
	}
	if s.camera != nil {
		resp.Camera.Configured = true
		resp.Camera.Alive = s.camera.Alive()
		if info, ok := s.camera.Session(); ok {
			resp.Camera.Session = &info
		}
		if !resp.Camera.Alive {
			resp.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// submitScanHandler queues a scan of an uploaded image, or of the current
// camera frame when the request carries none.
func (s *Server) submitScanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	img, source, status, msg := s.frameForScan(w, r)
	if img == nil {
		scanRequestsTotal.WithLabelValues(source, "rejected").Inc()
		s.writeErrorResponse(w, msg, status)
		return
	}

	id, err := s.scans.Submit(img)
	if err != nil {
		scanRequestsTotal.WithLabelValues(source, "rejected").Inc()
		switch {
		case errors.Is(err, scan.ErrQueueFull):
			w.Header().Set("Retry-After", "1")
			s.writeErrorResponse(w, "scan queue is full", http.StatusServiceUnavailable)
		case errors.Is(err, scan.ErrClosed):
			s.writeErrorResponse(w, "scanner is shutting down", http.StatusServiceUnavailable)
		default:
			s.logger.Error("Failed to submit scan", "error", err)
			s.writeErrorResponse(w, "failed to submit scan", http.StatusInternalServerError)
		}
		return
	}

	scanRequestsTotal.WithLabelValues(source, "accepted").Inc()
	s.logger.Info("Scan accepted", "scan_id", id, "source", source)
	s.writeJSON(w, http.StatusAccepted, SubmitResponse{ScanID: id, Status: scan.StatusPending})
}

// frameForScan returns the image to scan and its source label. On failure
// img is nil and status/msg describe the error answer.
func (s *Server) frameForScan(w http.ResponseWriter, r *http.Request) (img image.Image, source string, status int, msg string) {
	limit := s.cfg.MaxUploadMB * 1024 * 1024
	ct := r.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		if err := r.ParseMultipartForm(limit); err != nil {
			if tooLarge(err) {
				return nil, "upload", http.StatusRequestEntityTooLarge, "file too large"
			}
			return nil, "upload", http.StatusBadRequest, "failed to parse form data"
		}
		file, header, err := r.FormFile("image")
		switch {
		case err == nil:
			defer func() { _ = file.Close() }()
			uploadSizeBytes.Observe(float64(header.Size))
			decoded, err := utils.DecodeImage(file)
			if err != nil {
				return nil, "upload", http.StatusBadRequest, "invalid image format"
			}
			return decoded, "upload", 0, ""
		case !errors.Is(err, http.ErrMissingFile):
			return nil, "upload", http.StatusBadRequest, "failed to read image field"
		}

	case strings.HasPrefix(ct, "image/"):
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		decoded, err := utils.DecodeImage(r.Body)
		if err != nil {
			if tooLarge(err) {
				return nil, "upload", http.StatusRequestEntityTooLarge, "file too large"
			}
			return nil, "upload", http.StatusBadRequest, "invalid image format"
		}
		if r.ContentLength > 0 {
			uploadSizeBytes.Observe(float64(r.ContentLength))
		}
		return decoded, "upload", 0, ""
	}

	if s.camera == nil {
		return nil, "camera", http.StatusBadRequest, "no image uploaded and no camera configured"
	}
	frame := s.camera.Read()
	if frame == nil {
		return nil, "camera", http.StatusServiceUnavailable, "no camera frame available"
	}
	return frame, "camera", 0, ""
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// getScanHandler answers with the terminal record, waiting a bounded number
// of poll attempts while the scan is pending.
func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")

	rec, known := s.pollScan(r.Context(), id)
	switch {
	case !known:
		scanPollOutcomes.WithLabelValues("unknown").Inc()
		s.writeErrorResponse(w, "unknown scan id", http.StatusNotFound)
	case !rec.Status.Terminal():
		scanPollOutcomes.WithLabelValues("pending").Inc()
		s.writeJSON(w, http.StatusAccepted, PendingResponse{ScanID: id, Status: rec.Status, Timeout: true})
	default:
		scanPollOutcomes.WithLabelValues("terminal").Inc()
		s.writeJSON(w, http.StatusOK, s.scanResponse(rec))
	}
}

func (s *Server) pollScan(ctx context.Context, id string) (scan.Record, bool) {
	var (
		rec   scan.Record
		known bool
	)
	_ = retry.Do(
		func() error {
			rec, known = s.scans.Get(id)
			if !known {
				return retry.Unrecoverable(scan.ErrUnknownScan)
			}
			if !rec.Status.Terminal() {
				return errStillPending
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.PollAttempts),
		retry.Delay(s.cfg.PollDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return rec, known
}

func (s *Server) scanResponse(rec scan.Record) ScanResponse {
	resp := ScanResponse{Record: rec}
	if rec.Status == scan.StatusCompleted && rec.Fields != nil {
		o := fields.Classify(rec.Fields, s.cfg.MinConfidence)
		resp.Outcome = &o
	}
	return resp
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.camera == nil {
		s.writeErrorResponse(w, "no camera configured", http.StatusServiceUnavailable)
		return
	}
	jpg, ok, err := s.camera.Snapshot(qualityParam(r, s.cfg.SnapshotQuality))
	switch {
	case err != nil:
		s.logger.Error("Failed to encode snapshot", "error", err)
		s.writeErrorResponse(w, "failed to encode frame", http.StatusInternalServerError)
	case !ok:
		s.writeErrorResponse(w, "no camera frame available", http.StatusServiceUnavailable)
	default:
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(jpg)
	}
}

// videoFeedHandler streams the camera as multipart/x-mixed-replace until
// the client goes away.
func (s *Server) videoFeedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.camera == nil || !s.camera.Alive() {
		s.writeErrorResponse(w, "camera not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+capture.Boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	streamClients.Inc()
	defer streamClients.Dec()

	for part := range s.camera.Stream(r.Context(), qualityParam(r, s.cfg.StreamQuality)) {
		if _, err := w.Write(part); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func qualityParam(r *http.Request, def int) int {
	q, err := strconv.Atoi(r.URL.Query().Get("quality"))
	if err != nil || q <= 0 {
		return def
	}
	return min(q, 100)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
