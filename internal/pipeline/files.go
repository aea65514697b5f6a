package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/labelscan/internal/fields"
	"github.com/MeKo-Tech/labelscan/internal/pdf"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// FileOptions controls offline scanning of image and PDF files.
type FileOptions struct {
	PDF           pdf.Options
	MinConfidence float64
}

// fileFrame is one decoded input: a whole image file or one PDF image.
type fileFrame struct {
	source string
	page   int
	image  image.Image
	err    error
}

// ProcessFiles scans every path. Images yield one result each; PDFs yield
// one result per embedded image. Per-file failures are reported in the
// result list, not as an error; only cancellation aborts the run.
// Decoded frames go through the parallel worker pool, results keep input order.
func (p *Pipeline) ProcessFiles(ctx context.Context, paths []string, opts FileOptions) ([]LabeledResult, error) {
	var inputs []fileFrame
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pdf.IsPDF(path) {
			inputs = append(inputs, loadPDF(path, opts.PDF)...)
			continue
		}
		img, err := utils.LoadImage(path)
		inputs = append(inputs, fileFrame{source: path, image: img, err: err})
	}

	var frames []image.Image
	for _, in := range inputs {
		if in.err == nil {
			frames = append(frames, in.image)
		}
	}
	results, errs := p.processFrames(ctx, frames)

	out := make([]LabeledResult, 0, len(inputs))
	next := 0
	for _, in := range inputs {
		if in.err != nil {
			out = append(out, LabeledResult{Source: in.source, Page: in.page, Error: in.err.Error()})
			continue
		}
		out = append(out, labeled(in.source, in.page, results[next], errs[next], opts.MinConfidence))
		next++
	}
	return out, ctx.Err()
}

func loadPDF(path string, opts pdf.Options) []fileFrame {
	images, err := pdf.ExtractImages(path, opts)
	if err != nil {
		return []fileFrame{{source: path, err: err}}
	}
	if len(images) == 0 {
		return []fileFrame{{source: path, err: errors.New("no embedded images found")}}
	}
	slog.Debug("Extracted PDF images", "file", path, "images", len(images))

	out := make([]fileFrame, 0, len(images))
	for _, pi := range images {
		source := path
		if len(images) > 1 && pi.Index > 1 {
			source = fmt.Sprintf("%s#%d", path, pi.Index)
		}
		out = append(out, fileFrame{source: source, page: pi.Page, image: pi.Image})
	}
	return out
}

func labeled(source string, page int, res *Result, err error, minConfidence float64) LabeledResult {
	if err != nil {
		return LabeledResult{Source: source, Page: page, Error: err.Error()}
	}
	return LabeledResult{
		Source:  source,
		Page:    page,
		Result:  res,
		Outcome: fields.Classify(res.Fields, minConfidence),
	}
}
