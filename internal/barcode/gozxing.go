package barcode

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"slices"

	"github.com/disintegration/imaging"
	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

type gozxingBackend struct{}

type formatReader struct {
	format Format
	newFn  func() gozxing.Reader
}

// Readers are built per call; gozxing readers keep scratch state and are not
// safe to share between goroutines.
var zxingReaders = []formatReader{
	{FormatCode128, func() gozxing.Reader { return oned.NewCode128Reader() }},
	{FormatQR, func() gozxing.Reader { return qrcode.NewQRCodeReader() }},
	{FormatDataMatrix, func() gozxing.Reader { return datamatrix.NewDataMatrixReader() }},
	{FormatAztec, func() gozxing.Reader { return aztec.NewAztecReader() }},
	{FormatCode39, func() gozxing.Reader { return oned.NewCode39Reader() }},
	{FormatEAN13, func() gozxing.Reader { return oned.NewEAN13Reader() }},
	{FormatEAN8, func() gozxing.Reader { return oned.NewEAN8Reader() }},
	{FormatUPCA, func() gozxing.Reader { return oned.NewUPCAReader() }},
	{FormatUPCE, func() gozxing.Reader { return oned.NewUPCEReader() }},
	{FormatITF, func() gozxing.Reader { return oned.NewITFReader() }},
	{FormatCodabar, func() gozxing.Reader { return oned.NewCodaBarReader() }},
}

// Supported reports whether the decoder has a reader for f. PDF417 is named
// so it can appear in results and config, but gozxing ships no reader for it.
func Supported(f Format) bool {
	return slices.ContainsFunc(zxingReaders, func(r formatReader) bool { return r.format == f })
}

func (b *gozxingBackend) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrNotFound
	}
	if !opts.ROI.Empty() {
		if roi, ok := subImage(img, opts.ROI); ok {
			img = roi
		}
	}

	out, err := b.decodeOnce(ctx, img, opts)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 && opts.Rotate {
		out, err = b.decodeOnce(ctx, imaging.Rotate90(img), opts)
		if err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (b *gozxingBackend) decodeOnce(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("barcode: prepare bitmap: %w", err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{}
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	var out []Result
	for _, fr := range zxingReaders {
		if len(opts.Formats) > 0 && !slices.Contains(opts.Formats, fr.format) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, ok := tryDecode(fr.newFn(), bmp, hints)
		if !ok {
			continue
		}
		out = append(out, toResult(r))
		if !opts.Multi {
			break
		}
	}
	return out, nil
}

// tryDecode treats a reader panic on malformed input like a miss.
func tryDecode(reader gozxing.Reader, bmp *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) (r *gozxing.Result, ok bool) {
	defer func() {
		if recover() != nil {
			r, ok = nil, false
		}
	}()
	r, err := reader.Decode(bmp, hints)
	if err != nil || r == nil || r.GetText() == "" {
		return nil, false
	}
	return r, true
}

func toResult(r *gozxing.Result) Result {
	var points []Point
	for _, p := range r.GetResultPoints() {
		points = append(points, Point{X: int(p.GetX()), Y: int(p.GetY())})
	}
	return Result{
		Type:   formatFromZXing(r.GetBarcodeFormat()),
		Value:  r.GetText(),
		Points: points,
		BBox:   rectFromPoints(points),
	}
}

func formatFromZXing(bf gozxing.BarcodeFormat) Format {
	switch bf {
	case gozxing.BarcodeFormat_QR_CODE:
		return FormatQR
	case gozxing.BarcodeFormat_DATA_MATRIX:
		return FormatDataMatrix
	case gozxing.BarcodeFormat_AZTEC:
		return FormatAztec
	case gozxing.BarcodeFormat_PDF_417:
		return FormatPDF417
	case gozxing.BarcodeFormat_CODE_128:
		return FormatCode128
	case gozxing.BarcodeFormat_CODE_39:
		return FormatCode39
	case gozxing.BarcodeFormat_EAN_8:
		return FormatEAN8
	case gozxing.BarcodeFormat_EAN_13:
		return FormatEAN13
	case gozxing.BarcodeFormat_UPC_A:
		return FormatUPCA
	case gozxing.BarcodeFormat_UPC_E:
		return FormatUPCE
	case gozxing.BarcodeFormat_ITF:
		return FormatITF
	case gozxing.BarcodeFormat_CODABAR:
		return FormatCodabar
	default:
		return FormatUnknown
	}
}

func rectFromPoints(pts []Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	r := image.Rect(pts[0].X, pts[0].Y, pts[0].X+1, pts[0].Y+1)
	for _, p := range pts[1:] {
		r = r.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
	}
	return r
}

// subImage crops to r when it intersects the image.
func subImage(img image.Image, r image.Rectangle) (image.Image, bool) {
	rb := r.Intersect(img.Bounds())
	if rb.Empty() {
		return nil, false
	}
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(rb), true
	}
	dst := image.NewRGBA(image.Rect(0, 0, rb.Dx(), rb.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rb.Min, draw.Src)
	return dst, true
}
