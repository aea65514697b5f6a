package align

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/labelscan/internal/utils"
)

func debugPath(dir, kind string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("align_%s_%d.png", kind, time.Now().UnixNano())), nil
}

func dumpMask(dir string, m *edgeMask) error {
	path, err := debugPath(dir, "edges")
	if err != nil {
		return err
	}
	return imaging.Save(m.image(), path)
}

func dumpOverlay(dir string, src image.Image, quad []utils.Point) error {
	path, err := debugPath(dir, "quad")
	if err != nil {
		return err
	}
	b := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Src)
	local := make([]utils.Point, len(quad))
	for i, p := range quad {
		local[i] = utils.Point{X: p.X - float64(b.Min.X), Y: p.Y - float64(b.Min.Y)}
	}
	utils.DrawPolygon(canvas, local, color.RGBA{R: 255, A: 255}, 2)
	return imaging.Save(canvas, path)
}
