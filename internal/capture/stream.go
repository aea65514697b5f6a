package capture

import (
	"context"
	"fmt"
	"image"
	"iter"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// Boundary is the multipart boundary used by Stream.
const Boundary = "frame"

// Stream yields multipart JPEG parts of the latest frame at StreamFPS,
// independent of the camera rate. Each call returns a fresh sequence; it
// ends when ctx is done or the consumer stops ranging.
func (s *Source) Stream(ctx context.Context, quality int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		ticker := time.NewTicker(time.Second / time.Duration(s.cfg.StreamFPS))
		defer ticker.Stop()

		var (
			lastSeq  uint64
			lastPart []byte
		)
		for {
			img, seq := s.latest()
			if img != nil {
				if seq != lastSeq || lastPart == nil {
					part, err := s.encodePart(img, quality)
					if err != nil {
						s.logger.Warn("Failed to encode stream frame", "error", err)
					} else {
						lastSeq, lastPart = seq, part
					}
				}
				if lastPart != nil && !yield(lastPart) {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func (s *Source) encodePart(img image.Image, quality int) ([]byte, error) {
	if img.Bounds().Dx() > s.cfg.StreamWidth {
		img = imaging.Resize(img, s.cfg.StreamWidth, 0, imaging.Linear)
	}
	jpg, err := utils.EncodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	return FormatPart(jpg), nil
}

// FormatPart wraps a JPEG payload in one multipart/x-mixed-replace part.
func FormatPart(jpg []byte) []byte {
	out := make([]byte, 0, len(jpg)+96)
	out = fmt.Appendf(out, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpg))
	out = append(out, jpg...)
	return append(out, "\r\n"...)
}

// Snapshot encodes the latest frame at full resolution. ok is false when no
// frame is available.
func (s *Source) Snapshot(quality int) (jpg []byte, ok bool, err error) {
	img, _ := s.latest()
	if img == nil {
		return nil, false, nil
	}
	jpg, err = utils.EncodeJPEG(img, quality)
	if err != nil {
		return nil, true, err
	}
	return jpg, true, nil
}
