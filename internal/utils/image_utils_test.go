package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedImage(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"a.jpg", true},
		{"b.JPEG", true},
		{"c.png", true},
		{"d.bmp", true},
		{"e.tiff", false},
		{"f.gif", false},
	}
	for _, c := range cases {
		if IsSupportedImage(c.path) != c.ok {
			t.Fatalf("IsSupportedImage(%s) expected %v", c.path, c.ok)
		}
	}
}

func writeTempPNG(t *testing.T, dir string, w, h int, col color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, col)
		}
	}
	path := filepath.Join(dir, "test.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	p := writeTempPNG(t, dir, 10, 20, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	img, err := LoadImage(p)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	_, err = LoadImage("")
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "load", ipe.Operation)

	_, err = LoadImage(filepath.Join(dir, "label.gif"))
	require.Error(t, err)

	_, err = LoadImage(filepath.Join(dir, "missing.png"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDecodeAndEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	data, err := EncodeJPEG(img, 500)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := DecodeImage(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), decoded.Bounds())

	_, err = DecodeImage(bytes.NewReader([]byte("not an image")))
	require.Error(t, err)
}

func TestFractionalBox(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)
	box := FractionalBox(bounds, 0, 0, 1, 0.4)
	assert.Equal(t, image.Rect(0, 0, 200, 40), box.ToRect(bounds))

	clamped := FractionalBox(bounds, -1, 0.5, 2, 1.5)
	assert.Equal(t, image.Rect(0, 50, 200, 100), clamped.ToRect(bounds))

	offset := image.Rect(10, 20, 110, 120)
	assert.Equal(t, image.Rect(10, 70, 110, 120), FractionalBox(offset, 0, 0.5, 1, 1).ToRect(offset))
}

func TestBoxAndScale(t *testing.T) {
	box := NewBox(10, 7, 0, 0)
	assert.Equal(t, 10.0, box.Width())
	assert.Equal(t, 7.0, box.Height())

	s := ScalePoints([]Point{{0, 0}, {10, 5}}, 2, 3)
	assert.Equal(t, Point{20, 15}, s[1])
}

func TestCropImageRect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	cropped := CropImageRect(img, image.Rect(2, 1, 6, 3))
	assert.Equal(t, image.Rect(0, 0, 4, 2), cropped.Bounds())

	empty := CropImageRect(img, image.Rect(20, 20, 30, 30))
	assert.True(t, empty.Bounds().Empty())
}

func TestDrawAndFillPolygon(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	white := color.RGBA{255, 255, 255, 255}

	FillPolygon(img, []Point{{2, 2}, {18, 2}, {18, 18}, {2, 18}}, white)
	assert.Equal(t, white, img.RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))

	blue := color.RGBA{0, 0, 255, 255}
	DrawPolygon(img, []Point{{1, 1}, {19, 1}, {19, 19}}, blue, 1)
	assert.Equal(t, blue, img.RGBAAt(1, 1))
	assert.Equal(t, blue, img.RGBAAt(19, 10))
}

func TestGrayPlaneRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.White)

	g := ToGrayPlane(img)
	require.Equal(t, 4, g.W)
	require.Equal(t, 2, g.H)
	assert.InDelta(t, 255, g.At(1, 1), 0.5)
	assert.InDelta(t, 0, g.At(0, 0), 0.5)
	assert.InDelta(t, 0, g.At(-5, -5), 0.5, "coordinates clamp")

	out := g.Image()
	assert.Equal(t, uint8(255), out.GrayAt(1, 1).Y)
}

func TestResizeToWidth(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1000, 500))
	resized, scale, err := ResizeToWidth(img, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, resized.Bounds().Dx())
	assert.Equal(t, 250, resized.Bounds().Dy())
	assert.InDelta(t, 2.0, scale, 1e-9)

	same, scale, err := ResizeToWidth(img, 2000)
	require.NoError(t, err)
	assert.Same(t, img, same.(*image.RGBA))
	assert.Equal(t, 1.0, scale)

	_, _, err = ResizeToWidth(nil, 10)
	require.Error(t, err)
}

func TestSameImage(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 3, 3))
	b := image.NewRGBA(image.Rect(0, 0, 3, 3))
	assert.True(t, SameImage(a, b))
	b.Set(2, 2, color.White)
	assert.False(t, SameImage(a, b))
	assert.False(t, SameImage(a, image.NewRGBA(image.Rect(0, 0, 2, 3))))
}
