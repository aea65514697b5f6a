// Package ocr runs zone-by-zone text recognition over an aligned label.
package ocr

import (
	"context"
	"errors"
	"image"
)

// ErrEngineUnavailable is returned by engines whose backing library or
// language data cannot be loaded.
var ErrEngineUnavailable = errors.New("ocr: engine unavailable")

// Recognition is the engine output for one zone. Confidence is in [0,1].
type Recognition struct {
	Text       string
	Confidence float64
}

// Engine recognizes text in a preprocessed zone image.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, layout Layout) (Recognition, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, img image.Image, layout Layout) (Recognition, error)

func (f EngineFunc) Recognize(ctx context.Context, img image.Image, layout Layout) (Recognition, error) {
	return f(ctx, img, layout)
}
