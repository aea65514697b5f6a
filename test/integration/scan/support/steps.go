package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/ocr/ocrtest"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// RegisterSteps binds every step definition to sc.
func (tc *TestContext) RegisterSteps(sc *godog.ScenarioContext) {
	// Scanner setup
	sc.Step(`^the OCR engine reads the standard label$`, tc.theOCREngineReadsTheStandardLabel)
	sc.Step(`^the OCR engine reads nothing$`, tc.theOCREngineReadsNothing)
	sc.Step(`^the OCR engine reads the label with confidence ([0-9.]+)$`, tc.theOCREngineReadsTheLabelWithConfidence)
	sc.Step(`^the OCR engine is down$`, tc.theOCREngineIsDown)
	sc.Step(`^the label carries the barcode "([^"]*)"$`, tc.theLabelCarriesTheBarcode)
	sc.Step(`^a running scanner without a camera$`, tc.aRunningScannerWithoutACamera)
	sc.Step(`^a running scanner with a camera showing the label$`, tc.aRunningScannerWithACameraShowingTheLabel)
	sc.Step(`^a running scanner with a camera showing the label rotated by (-?[0-9.]+) degrees$`,
		tc.aRunningScannerWithACameraShowingTheLabelRotated)

	// Requests
	sc.Step(`^I upload the label image$`, tc.iUploadTheLabelImage)
	sc.Step(`^I upload a blank image$`, tc.iUploadABlankImage)
	sc.Step(`^I upload the bytes "([^"]*)"$`, tc.iUploadTheBytes)
	sc.Step(`^I submit a scan without an image$`, tc.iSubmitAScanWithoutAnImage)
	sc.Step(`^I submit (\d+) scans without an image$`, tc.iSubmitScansWithoutAnImage)
	sc.Step(`^I fetch the scan result$`, tc.iFetchTheScanResult)
	sc.Step(`^I fetch the scan "([^"]*)"$`, tc.iFetchTheScan)
	sc.Step(`^I request "([^"]*)"$`, tc.iRequest)

	// Assertions
	sc.Step(`^the response status should be (\d+)$`, tc.theResponseStatusShouldBe)
	sc.Step(`^the response should contain a scan id$`, tc.theResponseShouldContainAScanID)
	sc.Step(`^the response header "([^"]*)" should contain "([^"]*)"$`, tc.theResponseHeaderShouldContain)
	sc.Step(`^the JSON value "([^"]*)" should be "([^"]*)"$`, tc.theJSONValueShouldBe)
	sc.Step(`^the scan status should be "([^"]*)"$`, tc.theScanStatusShouldBe)
	sc.Step(`^the field "([^"]*)" should be "([^"]*)"$`, tc.theFieldShouldBe)
	sc.Step(`^the field "([^"]*)" should be null$`, tc.theFieldShouldBeNull)
	sc.Step(`^the fields should come from "([^"]*)"$`, tc.theFieldsShouldComeFrom)
	sc.Step(`^the outcome should be "([^"]*)"$`, tc.theOutcomeShouldBe)
	sc.Step(`^the scan error should mention "([^"]*)"$`, tc.theScanErrorShouldMention)
	sc.Step(`^all scan ids should be distinct$`, tc.allScanIDsShouldBeDistinct)
	sc.Step(`^every scan should complete$`, tc.everyScanShouldComplete)
}

func (tc *TestContext) theOCREngineReadsTheStandardLabel() error {
	tc.Label = ocrtest.DefaultLabel()
	return nil
}

func (tc *TestContext) theOCREngineReadsNothing() error {
	tc.Label = ocrtest.Label{Confidence: 0.95}
	return nil
}

func (tc *TestContext) theOCREngineReadsTheLabelWithConfidence(conf float64) error {
	tc.Label = ocrtest.DefaultLabel()
	tc.Label.Confidence = conf
	return nil
}

func (tc *TestContext) theOCREngineIsDown() error {
	tc.EngineErr = ocrtest.ErrEngineDown
	return nil
}

func (tc *TestContext) theLabelCarriesTheBarcode(value string) error {
	tc.LabelSpec.Barcode = value
	tc.Decoder = barcode.NewBackend()
	return nil
}

func (tc *TestContext) aRunningScannerWithoutACamera() error {
	return tc.StartScanner(nil)
}

func (tc *TestContext) aRunningScannerWithACameraShowingTheLabel() error {
	return tc.StartScanner(testutil.PlaceOnDesk(testutil.RenderLabel(tc.T, tc.LabelSpec), 1000, 1100, 0))
}

func (tc *TestContext) aRunningScannerWithACameraShowingTheLabelRotated(angle float64) error {
	return tc.StartScanner(testutil.PlaceOnDesk(testutil.RenderLabel(tc.T, tc.LabelSpec), 1000, 1100, angle))
}

func (tc *TestContext) iUploadTheLabelImage() error {
	return tc.upload(testutil.EncodePNG(tc.T, testutil.RenderLabel(tc.T, tc.LabelSpec)))
}

func (tc *TestContext) iUploadABlankImage() error {
	return tc.upload(testutil.EncodePNG(tc.T, imaging.New(640, 480, color.White)))
}

func (tc *TestContext) iUploadTheBytes(data string) error {
	return tc.upload([]byte(data))
}

func (tc *TestContext) upload(data []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "label.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return tc.do(http.MethodPost, "/scan", w.FormDataContentType(), &buf)
}

func (tc *TestContext) iSubmitAScanWithoutAnImage() error {
	return tc.do(http.MethodPost, "/scan", "", nil)
}

func (tc *TestContext) iSubmitScansWithoutAnImage(n int) error {
	for range n {
		if err := tc.iSubmitAScanWithoutAnImage(); err != nil {
			return err
		}
		if tc.LastStatus != http.StatusAccepted {
			return fmt.Errorf("submission rejected with status %d: %s", tc.LastStatus, tc.LastBody)
		}
	}
	return nil
}

func (tc *TestContext) iFetchTheScanResult() error {
	if len(tc.ScanIDs) == 0 {
		return fmt.Errorf("no scan was submitted")
	}
	return tc.iFetchTheScan(tc.ScanIDs[len(tc.ScanIDs)-1])
}

func (tc *TestContext) iFetchTheScan(id string) error {
	return tc.do(http.MethodGet, "/scan/"+id, "", nil)
}

func (tc *TestContext) iRequest(path string) error {
	return tc.do(http.MethodGet, path, "", nil)
}

// do sends a request to the running scanner and records the response. A
// 202 carrying a scan id appends it to ScanIDs.
func (tc *TestContext) do(method, path, contentType string, body io.Reader) error {
	if tc.Server == nil {
		return fmt.Errorf("scanner is not running")
	}
	req, err := http.NewRequest(method, tc.Server.URL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := tc.Server.Client().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	tc.LastStatus = resp.StatusCode
	tc.LastHeaders = resp.Header
	if tc.LastBody, err = io.ReadAll(resp.Body); err != nil {
		return err
	}

	if method == http.MethodPost && resp.StatusCode == http.StatusAccepted {
		var sub struct {
			ScanID string `json:"scan_id"`
		}
		if err := json.Unmarshal(tc.LastBody, &sub); err == nil && sub.ScanID != "" {
			tc.ScanIDs = append(tc.ScanIDs, sub.ScanID)
		}
	}
	return nil
}

func (tc *TestContext) theResponseStatusShouldBe(code int) error {
	if tc.LastStatus != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, tc.LastStatus, tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theResponseShouldContainAScanID() error {
	v, err := tc.jsonValue("scan_id")
	if err != nil {
		return err
	}
	if s, _ := v.(string); s == "" {
		return fmt.Errorf("empty scan id in %s", tc.LastBody)
	}
	return nil
}

func (tc *TestContext) theResponseHeaderShouldContain(name, want string) error {
	got := tc.LastHeaders.Get(name)
	if !strings.Contains(got, want) {
		return fmt.Errorf("header %s is %q, want it to contain %q", name, got, want)
	}
	return nil
}

func (tc *TestContext) theJSONValueShouldBe(path, want string) error {
	v, err := tc.jsonValue(path)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("%s is %q, want %q", path, got, want)
	}
	return nil
}

func (tc *TestContext) theScanStatusShouldBe(want string) error {
	return tc.theJSONValueShouldBe("status", want)
}

func (tc *TestContext) theFieldShouldBe(name, want string) error {
	return tc.theJSONValueShouldBe("fields."+name, want)
}

func (tc *TestContext) theFieldShouldBeNull(name string) error {
	v, err := tc.jsonValue("fields." + name)
	if err != nil {
		return err
	}
	if v != nil {
		return fmt.Errorf("field %s is %v, want null", name, v)
	}
	return nil
}

func (tc *TestContext) theFieldsShouldComeFrom(source string) error {
	return tc.theJSONValueShouldBe("fields.source", source)
}

func (tc *TestContext) theOutcomeShouldBe(kind string) error {
	return tc.theJSONValueShouldBe("outcome.kind", kind)
}

func (tc *TestContext) theScanErrorShouldMention(text string) error {
	v, err := tc.jsonValue("error")
	if err != nil {
		return err
	}
	if s, _ := v.(string); !strings.Contains(s, text) {
		return fmt.Errorf("error %q does not mention %q", s, text)
	}
	return nil
}

func (tc *TestContext) allScanIDsShouldBeDistinct() error {
	ids := slices.Clone(tc.ScanIDs)
	slices.Sort(ids)
	if len(slices.Compact(ids)) != len(tc.ScanIDs) {
		return fmt.Errorf("duplicate scan ids: %v", tc.ScanIDs)
	}
	return nil
}

func (tc *TestContext) everyScanShouldComplete() error {
	for _, id := range tc.ScanIDs {
		if err := tc.iFetchTheScan(id); err != nil {
			return err
		}
		if err := tc.theResponseStatusShouldBe(http.StatusOK); err != nil {
			return fmt.Errorf("scan %s: %w", id, err)
		}
		if err := tc.theScanStatusShouldBe("completed"); err != nil {
			return fmt.Errorf("scan %s: %w", id, err)
		}
	}
	return nil
}

// jsonValue walks a dotted path through the last JSON body. A present key
// with a null value returns (nil, nil).
func (tc *TestContext) jsonValue(path string) (any, error) {
	var doc any
	if err := json.Unmarshal(tc.LastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w: %s", err, tc.LastBody)
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("no %q in %s", path, tc.LastBody)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("bad index %q in %s", key, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %q of %s", key, path)
		}
	}
	return cur, nil
}
