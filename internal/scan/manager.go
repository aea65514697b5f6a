package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/fields"
)

// Config controls concurrency, deadlines and retention.
type Config struct {
	Workers           int
	QueueSize         int
	MaxProcessingTime time.Duration
	RecorderTimeout   time.Duration
	RetentionTTL      time.Duration
	MaxRecords        int
	JanitorInterval   time.Duration
}

// DefaultConfig returns the defaults used by the server.
func DefaultConfig() Config {
	return Config{
		Workers:           2,
		QueueSize:         16,
		MaxProcessingTime: 30 * time.Second,
		RecorderTimeout:   5 * time.Second,
		RetentionTTL:      time.Hour,
		MaxRecords:        1000,
		JanitorInterval:   time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxProcessingTime <= 0 {
		c.MaxProcessingTime = d.MaxProcessingTime
	}
	if c.RecorderTimeout <= 0 {
		c.RecorderTimeout = d.RecorderTimeout
	}
	if c.RetentionTTL <= 0 {
		c.RetentionTTL = d.RetentionTTL
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = d.MaxRecords
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = d.JanitorInterval
	}
	return c
}

const (
	statePending int32 = iota
	stateTerminal
)

type entry struct {
	state atomic.Int32
	rec   Record // guarded by Manager.mu
	done  chan struct{}
}

type job struct {
	id  string
	img image.Image
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder persists completed scans.
func WithRecorder(r Recorder) Option { return func(m *Manager) { m.recorder = r } }

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithClock replaces time.Now, for retention tests.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// Manager owns the scan records and the worker pool.
type Manager struct {
	cfg       Config
	processor Processor
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	records map[string]*entry

	queueMu sync.RWMutex // held for writing only while closing the queue
	queue   chan job
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	janitor sync.WaitGroup
	stop    chan struct{}
}

// NewManager starts the workers and the retention janitor.
func NewManager(cfg Config, p Processor, opts ...Option) (*Manager, error) {
	if p == nil {
		return nil, errors.New("scan: processor is required")
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		processor: p,
		logger:    slog.Default(),
		now:       time.Now,
		records:   make(map[string]*entry),
		queue:     make(chan job, cfg.QueueSize),
		baseCtx:   ctx,
		cancel:    cancel,
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}

	for range cfg.Workers {
		m.workers.Add(1)
		go m.worker()
	}
	m.janitor.Add(1)
	go m.runJanitor()

	m.logger.Debug("Scan manager started",
		"workers", cfg.Workers,
		"queue", cfg.QueueSize,
		"max_processing", cfg.MaxProcessingTime)
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Submit copies img, records a pending scan and queues it. It never blocks
// on processing.
func (m *Manager) Submit(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", errors.New("scan: empty frame")
	}
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.closed {
		scansRejected.WithLabelValues("closed").Inc()
		return "", ErrClosed
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("scan: generate id: %w", err)
	}
	sid := id.String()
	frame := imaging.Clone(img)

	e := &entry{
		rec:  Record{ID: sid, Status: StatusPending, SubmittedAt: m.now()},
		done: make(chan struct{}),
	}
	m.mu.Lock()
	m.records[sid] = e
	scanRecords.Set(float64(len(m.records)))
	m.mu.Unlock()

	select {
	case m.queue <- job{id: sid, img: frame}:
	default:
		m.mu.Lock()
		delete(m.records, sid)
		scanRecords.Set(float64(len(m.records)))
		m.mu.Unlock()
		scansRejected.WithLabelValues("queue_full").Inc()
		return "", ErrQueueFull
	}

	scansSubmitted.Inc()
	scanQueueDepth.Set(float64(len(m.queue)))
	m.logger.Debug("Scan submitted", "scan_id", sid)
	return sid, nil
}

// Get returns a snapshot of the record without blocking.
func (m *Manager) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// Wait blocks until the scan is terminal or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Record, error) {
	m.mu.RLock()
	e, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrUnknownScan
	}
	select {
	case <-e.done:
		m.mu.RLock()
		defer m.mu.RUnlock()
		return e.rec, nil
	case <-ctx.Done():
		return m.snapshot(e), ctx.Err()
	}
}

func (m *Manager) snapshot(e *entry) Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.rec
}

// Stats counts retained records by status.
type Stats struct {
	Pending    int `json:"pending"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	QueueDepth int `json:"queue_depth"`
}

// Stats returns current counts.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{QueueDepth: len(m.queue)}
	for _, e := range m.records {
		switch e.rec.Status {
		case StatusPending:
			s.Pending++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

func (m *Manager) worker() {
	defer m.workers.Done()
	for j := range m.queue {
		scanQueueDepth.Set(float64(len(m.queue)))
		m.run(j)
	}
}

type outcome struct {
	fs  *fields.FieldSet
	err error
}

// run processes one job under the per-job deadline. A processor that
// ignores its context is abandoned when the deadline passes; its late
// result loses the transition race and is dropped.
func (m *Manager) run(j job) {
	ctx, cancel := context.WithTimeout(m.baseCtx, m.cfg.MaxProcessingTime)
	defer cancel()

	result := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Scan processor panicked", "scan_id", j.id, "panic", r, "stack", string(debug.Stack()))
				result <- outcome{err: fmt.Errorf("processing panicked: %v", r)}
			}
		}()
		fs, err := m.processor.Process(ctx, j.img)
		result <- outcome{fs: fs, err: err}
	}()

	var out outcome
	select {
	case out = <-result:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}

	switch {
	case out.err == nil && out.fs == nil:
		out.err = errors.New("processor returned no fields")
	case errors.Is(out.err, context.DeadlineExceeded):
		out.err = fmt.Errorf("processing exceeded %s", m.cfg.MaxProcessingTime)
	}

	if !m.finish(j.id, out) {
		return
	}
	if out.err == nil && m.recorder != nil {
		m.record(j.id, out.fs)
	}
}

// finish performs the single pending to terminal transition. It returns
// false if the record is gone or already terminal.
func (m *Manager) finish(id string, out outcome) bool {
	m.mu.RLock()
	e, ok := m.records[id]
	m.mu.RUnlock()
	if !ok || !e.state.CompareAndSwap(statePending, stateTerminal) {
		return false
	}

	now := m.now()
	m.mu.Lock()
	e.rec.CompletedAt = &now
	if out.err != nil {
		e.rec.Status = StatusFailed
		e.rec.Error = out.err.Error()
	} else {
		e.rec.Status = StatusCompleted
		e.rec.Fields = out.fs
	}
	rec := e.rec
	evicted := m.trimLocked(id)
	if evicted > 0 {
		scanRecords.Set(float64(len(m.records)))
	}
	m.mu.Unlock()
	close(e.done)

	scansFinished.WithLabelValues(string(rec.Status)).Inc()
	scanDuration.Observe(now.Sub(rec.SubmittedAt).Seconds())
	if out.err != nil {
		m.logger.Warn("Scan failed", "scan_id", id, "error", out.err)
	} else {
		m.logger.Info("Scan completed",
			"scan_id", id,
			"populated", rec.Fields.Populated(),
			"confidence", rec.Fields.Confidence,
			"duration_ms", now.Sub(rec.SubmittedAt).Milliseconds())
	}
	return true
}

func (m *Manager) record(id string, fs *fields.FieldSet) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RecorderTimeout)
	defer cancel()
	if err := m.recorder.Record(ctx, id, fs); err != nil {
		scanRecorderErrors.Inc()
		m.logger.Error("Failed to record scan", "scan_id", id, "error", err)
	}
}

// Close stops accepting scans and waits for queued ones to finish. When ctx
// ends first, in-flight scans are cancelled and fail.
func (m *Manager) Close(ctx context.Context) error {
	m.queueMu.Lock()
	if m.closed {
		m.queueMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.queueMu.Unlock()

	close(m.stop)
	m.janitor.Wait()

	drained := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-drained
		return ctx.Err()
	}
}
