// Package pdf pulls embedded label images out of printable shipping-label
// PDFs so they can be scanned offline.
package pdf

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrEncrypted is returned when a PDF needs a password that was not given
// or did not work.
var ErrEncrypted = errors.New("pdf: document is encrypted")

// Options selects pages and supplies credentials.
type Options struct {
	Pages    string // "1-3,5"; empty means all pages
	Password string
}

// PageImage is one embedded image with its position in the document.
type PageImage struct {
	Page  int
	Index int
	Image image.Image
}

// IsPDF reports whether path has a .pdf extension.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func configFor(opts Options) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	if opts.Password != "" {
		conf.UserPW = opts.Password
		conf.OwnerPW = opts.Password
	}
	return conf
}

// PageCount returns the number of pages in filename.
func PageCount(filename string, opts Options) (int, error) {
	if opts.Password == "" {
		n, err := api.PageCountFile(filename)
		return n, classify(err)
	}
	f, err := os.Open(filename) //nolint:gosec // G304: user-selected label file
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	n, err := api.PageCount(f, configFor(opts))
	return n, classify(err)
}

// ExtractImages extracts every embedded image on the selected pages, ordered
// by page and then by position on the page.
func ExtractImages(filename string, opts Options) ([]PageImage, error) {
	pageNumbers, err := parsePageRange(opts.Pages)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", opts.Pages, err)
	}

	tempDir, err := os.MkdirTemp("", "labelscan-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var pageStrings []string
	for _, n := range pageNumbers {
		pageStrings = append(pageStrings, strconv.Itoa(n))
	}

	if err := api.ExtractImagesFile(filename, tempDir, pageStrings, configFor(opts)); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", classify(err))
	}

	out, err := collectExtractedImages(tempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	return out, nil
}

// classify maps pdfcpu's password failures onto ErrEncrypted.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "encrypted") || strings.Contains(msg, "password") || strings.Contains(msg, "decrypt") {
		return fmt.Errorf("%w: %v", ErrEncrypted, err)
	}
	return err
}

func loadImageFile(path string) (image.Image, error) {
	file, err := os.Open(path) //nolint:gosec // G304: files written by pdfcpu into our temp dir
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	return img, err
}

// collectExtractedImages reads pdfcpu's page_<num>_image_<idx>.<ext> files.
// Anything else, or anything undecodable, is skipped.
func collectExtractedImages(dir string) ([]PageImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []PageImage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		page, idx, err := parseImageFilename(e.Name())
		if err != nil {
			continue
		}
		img, err := loadImageFile(filepath.Join(dir, e.Name()))
		if err != nil || img == nil {
			continue
		}
		out = append(out, PageImage{Page: page, Index: idx, Image: img})
	}
	slices.SortFunc(out, func(a, b PageImage) int {
		if a.Page != b.Page {
			return a.Page - b.Page
		}
		return a.Index - b.Index
	})
	return out, nil
}

// parseImageFilename returns page and image index from names such as
// page_2_image_1.png. A missing or unparsable index yields 0.
func parseImageFilename(filename string) (int, int, error) {
	if !strings.HasPrefix(filename, "page_") {
		return 0, 0, errors.New("not a page file")
	}
	parts := strings.Split(strings.TrimSuffix(filename, filepath.Ext(filename)), "_")
	if len(parts) < 2 {
		return 0, 0, errors.New("invalid filename format")
	}
	page, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, errors.New("invalid page number")
	}
	idx := 0
	if len(parts) >= 4 {
		idx, _ = strconv.Atoi(parts[3])
	}
	return page, idx, nil
}

// parsePageRange parses a page range string like "1-5" or "1,3,5".
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}
	var pages []int
	for part := range strings.SplitSeq(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

func parseRangeToken(part string) ([]int, error) {
	if lo, hi, ok := strings.Cut(part, "-"); ok {
		if strings.Contains(hi, "-") {
			return nil, fmt.Errorf("invalid range format: %s", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid start page: %s", lo)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", hi)
		}
		if start < 1 || start > end {
			return nil, fmt.Errorf("invalid page range %d-%d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil || page < 1 {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}
