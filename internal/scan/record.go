// Package scan runs label scans asynchronously: Submit returns an id at
// once, workers process the frame, and callers poll Get or block in Wait.
package scan

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/fields"
)

var (
	// ErrQueueFull is returned by Submit when every worker is busy and the
	// backlog is at capacity. No record is created.
	ErrQueueFull = errors.New("scan: queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("scan: manager closed")
	// ErrUnknownScan is returned by Wait for ids that were never issued or
	// have been evicted.
	ErrUnknownScan = errors.New("scan: unknown scan id")
)

// Status is the lifecycle state of a scan.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Record is a snapshot of one scan.
type Record struct {
	ID          string           `json:"scan_id"`
	Status      Status           `json:"status"`
	Fields      *fields.FieldSet `json:"fields,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Processor turns a frame into fields. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, img image.Image) (*fields.FieldSet, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, img image.Image) (*fields.FieldSet, error)

func (f ProcessorFunc) Process(ctx context.Context, img image.Image) (*fields.FieldSet, error) {
	return f(ctx, img)
}

// Recorder persists completed scans. Failures are logged and never change
// the outcome of the scan.
type Recorder interface {
	Record(ctx context.Context, id string, fs *fields.FieldSet) error
}
