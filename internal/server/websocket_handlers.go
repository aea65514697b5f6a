package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/labelscan/internal/scan"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketRequest is a client message. Type "scan" submits the uploaded
// Image when present, else the current camera frame.
type WebSocketRequest struct {
	Type  string `json:"type"`
	Image []byte `json:"image,omitempty"`
}

// WebSocketResponse is a server message.
type WebSocketResponse struct {
	Type      string        `json:"type"`   // scan_response, error
	Status    string        `json:"status"` // processing, completed, failed, pending, error
	ScanID    string        `json:"scan_id,omitempty"`
	Result    *ScanResponse `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorType string        `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// lockedConn serialises writes from the per-scan goroutines.
type lockedConn struct {
	mu   sync.Mutex
	conn WebSocketConnWriter
}

func (c *lockedConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (s *Server) scanWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	var pending sync.WaitGroup
	defer pending.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	out := &lockedConn{conn: conn}
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if messageType != websocket.TextMessage {
			continue
		}
		if id, ok := s.handleWebSocketMessage(out, data); ok {
			pending.Add(1)
			go func() {
				defer pending.Done()
				s.pushResult(ctx, out, id)
			}()
		}
	}
}

// handleWebSocketMessage submits a scan and acknowledges it. It returns the
// scan id when a result should be pushed later.
func (s *Server) handleWebSocketMessage(conn WebSocketConnWriter, data []byte) (string, bool) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "invalid_request", "failed to parse request")
		return "", false
	}
	if req.Type != "scan" {
		s.sendWebSocketError(conn, "invalid_request", "unsupported request type: "+req.Type)
		return "", false
	}

	source := "camera"
	var frame image.Image
	if len(req.Image) > 0 {
		source = "upload"
		img, err := utils.DecodeImage(bytes.NewReader(req.Image))
		if err != nil {
			s.sendWebSocketError(conn, "invalid_request", "invalid image format")
			return "", false
		}
		frame = img
	} else if s.camera != nil {
		frame = s.camera.Read()
	}
	if frame == nil {
		scanRequestsTotal.WithLabelValues(source, "rejected").Inc()
		s.sendWebSocketError(conn, "no_frame", "no camera frame available")
		return "", false
	}

	id, err := s.scans.Submit(frame)
	if err != nil {
		scanRequestsTotal.WithLabelValues(source, "rejected").Inc()
		kind := "submit_failed"
		if errors.Is(err, scan.ErrQueueFull) {
			kind = "queue_full"
		}
		s.sendWebSocketError(conn, kind, err.Error())
		return "", false
	}
	scanRequestsTotal.WithLabelValues(source, "accepted").Inc()

	s.sendWebSocketResponse(conn, WebSocketResponse{Type: "scan_response", Status: "processing", ScanID: id})
	return id, true
}

func (s *Server) pushResult(ctx context.Context, conn WebSocketConnWriter, id string) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WSWaitTimeout)
	defer cancel()

	rec, err := s.scans.Wait(ctx, id)
	switch {
	case errors.Is(err, scan.ErrUnknownScan):
		s.sendWebSocketError(conn, "unknown_scan", "scan record was evicted")
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) {
			s.sendWebSocketResponse(conn, WebSocketResponse{Type: "scan_response", Status: string(scan.StatusPending), ScanID: id})
		}
	default:
		resp := s.scanResponse(rec)
		s.sendWebSocketResponse(conn, WebSocketResponse{
			Type:   "scan_response",
			Status: string(rec.Status),
			ScanID: id,
			Result: &resp,
		})
	}
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
	})
}
