package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/labelscan/internal/utils"
)

var errDeviceClosed = errors.New("capture: device closed")

// ImageDevice replays a still image as if it were a camera, paced at the
// negotiated frame rate.
type ImageDevice struct {
	img image.Image

	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	closed   bool
}

// NewImageDevice returns a device that yields copies of img.
func NewImageDevice(img image.Image) *ImageDevice {
	return &ImageDevice{img: img, interval: time.Second / 30}
}

// ImageOpener returns an Opener that ignores the device id and replays the
// image at path.
func ImageOpener(path string) Opener {
	return func(context.Context, string) (Device, error) {
		img, err := utils.LoadImage(path)
		if err != nil {
			return nil, err
		}
		return NewImageDevice(img), nil
	}
}

func (d *ImageDevice) SetFormat(string) error { return nil }

func (d *ImageDevice) SetResolution(width, height, fps int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fps > 0 {
		d.interval = time.Second / time.Duration(fps)
	}
	if width > 0 && height > 0 && !d.img.Bounds().Empty() {
		b := d.img.Bounds()
		if b.Dx() != width || b.Dy() != height {
			d.img = imaging.Fit(d.img, width, height, imaging.Linear)
		}
	}
	return nil
}

func (d *ImageDevice) Read() (image.Image, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errDeviceClosed
	}
	wait := d.interval - time.Since(d.last)
	d.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errDeviceClosed
	}
	d.last = time.Now()
	return imaging.Clone(d.img), nil
}

func (d *ImageDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
