//go:build !camera_gocv

package opencv

import (
	"context"
	"errors"

	"github.com/MeKo-Tech/labelscan/internal/capture"
)

var ErrNoBackend = errors.New("opencv: no camera backend linked; build with -tags=camera_gocv")

// Open is a capture.Opener that reports the missing backend.
func Open(ctx context.Context, _ string) (capture.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoBackend
}
