//go:build camera_gocv

package opencv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"

	"gocv.io/x/gocv"

	"github.com/MeKo-Tech/labelscan/internal/capture"
)

// Device wraps a gocv VideoCapture.
type Device struct {
	id  string
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

var _ capture.Device = (*Device)(nil)

// Open is a capture.Opener. Numeric ids are V4L2 device indexes; anything
// else is handed to OpenCV as a file or stream URL.
func Open(ctx context.Context, id string) (capture.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if n, convErr := strconv.Atoi(id); convErr == nil {
		vc, err = gocv.OpenVideoCaptureWithAPI(n, gocv.VideoCaptureV4L2)
	} else {
		vc, err = gocv.OpenVideoCapture(id)
	}
	if err != nil {
		return nil, fmt.Errorf("opencv: open %s: %w", id, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("opencv: device %s not opened", id)
	}
	return &Device{id: id, vc: vc, mat: gocv.NewMat()}, nil
}

// SetFormat requests a FOURCC pixel format. Backends that report the
// property back must echo the requested codec.
func (d *Device) SetFormat(fourcc string) error {
	want := d.vc.ToCodec(fourcc)
	d.vc.Set(gocv.VideoCaptureFOURCC, want)
	if got := d.vc.Get(gocv.VideoCaptureFOURCC); got != 0 && got != want {
		return fmt.Errorf("opencv: device %s rejected format %s", d.id, fourcc)
	}
	return nil
}

func (d *Device) SetResolution(width, height, fps int) error {
	if width > 0 {
		d.vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		d.vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if fps > 0 {
		d.vc.Set(gocv.VideoCaptureFPS, float64(fps))
	}
	return nil
}

func (d *Device) Read() (image.Image, error) {
	if ok := d.vc.Read(&d.mat); !ok {
		return nil, errors.New("opencv: read failed")
	}
	if d.mat.Empty() {
		return nil, errors.New("opencv: empty frame")
	}
	return d.mat.ToImage()
}

func (d *Device) Close() error {
	_ = d.mat.Close()
	return d.vc.Close()
}
