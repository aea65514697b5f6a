// Package ocrtest provides scripted engines and decoders for tests that
// run the extraction stage without tesseract.
package ocrtest

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/ocr"
)

// Label is the text a ScriptedEngine returns for one frame, zone by zone.
type Label struct {
	Header, Body, Footer string
	Confidence           float64
}

// DefaultLabel matches testutil.DefaultLabelSpec.
func DefaultLabel() Label {
	return Label{
		Header:     "TRACKING: SPXID012345678901\nORDER: 240115ABCDEF12\nSORT: 12-A-03",
		Body:       "PENERIMA: Budi Santoso\nJl. Merdeka No. 10, Kec. Tebet\nPENGIRIM: Toko Maju\nBERAT: 1.2 kg  QTY: 2",
		Footer:     "DISTRICT: JAKARTA SELATAN",
		Confidence: 0.9,
	}
}

// ScriptedEngine answers the three default zones in order (header, body,
// footer) and then starts over. Calls are serialized, so it is only
// meaningful when frames are extracted one at a time.
type ScriptedEngine struct {
	mu    sync.Mutex
	label Label
	calls int
	err   error
	hook  func(ctx context.Context) error
}

// NewScriptedEngine returns an engine that recognizes label on every frame.
func NewScriptedEngine(label Label) *ScriptedEngine {
	return &ScriptedEngine{label: label}
}

// FailWith makes every call fail with err.
func (e *ScriptedEngine) FailWith(err error) *ScriptedEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
	return e
}

// OnRecognize runs hook before each recognition; a non-nil return fails the
// call. Useful to block or panic from inside the pipeline.
func (e *ScriptedEngine) OnRecognize(hook func(ctx context.Context) error) *ScriptedEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hook = hook
	return e
}

// Calls returns how many zones were recognized.
func (e *ScriptedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Recognize implements ocr.Engine.
func (e *ScriptedEngine) Recognize(ctx context.Context, _ image.Image, _ ocr.Layout) (ocr.Recognition, error) {
	e.mu.Lock()
	hook, err := e.hook, e.err
	n := e.calls
	e.calls++
	label := e.label
	e.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx); herr != nil {
			return ocr.Recognition{}, herr
		}
	}
	if err != nil {
		return ocr.Recognition{}, err
	}
	if err := ctx.Err(); err != nil {
		return ocr.Recognition{}, err
	}
	var text string
	switch n % 3 {
	case 0:
		text = label.Header
	case 1:
		text = label.Body
	default:
		text = label.Footer
	}
	return ocr.Recognition{Text: text, Confidence: label.Confidence}, nil
}

// StaticDecoder returns the same barcode payload for every frame; an empty
// value reports barcode.ErrNotFound.
type StaticDecoder struct {
	Value string
}

// Decode implements barcode.Backend.
func (d StaticDecoder) Decode(ctx context.Context, _ image.Image, _ barcode.Options) ([]barcode.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Value == "" {
		return nil, barcode.ErrNotFound
	}
	return []barcode.Result{{Type: barcode.FormatCode128, Value: d.Value}}, nil
}

// ErrEngineDown is a convenient failure for FailWith.
var ErrEngineDown = errors.New("ocrtest: engine down")
