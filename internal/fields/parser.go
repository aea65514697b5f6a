package fields

import (
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/ocr"
)

// Config holds the zone weights used to aggregate confidence.
type Config struct {
	HeaderWeight float64
	BodyWeight   float64
	FooterWeight float64
}

// DefaultConfig weights the identifier zone highest.
func DefaultConfig() Config {
	return Config{HeaderWeight: 0.5, BodyWeight: 0.3, FooterWeight: 0.2}
}

// Input is everything the parser needs for one scan.
type Input struct {
	Zones     []ocr.ZoneExtraction
	Barcode   *string
	Timestamp string // optional capture time; anything unparseable is replaced by now
}

// Parser is stateless apart from its configuration and clock.
type Parser struct {
	cfg Config
	now func() time.Time
}

// NewParser creates a Parser using the wall clock.
func NewParser(cfg Config) *Parser {
	return &Parser{cfg: cfg, now: time.Now}
}

// WithClock returns a copy of p that reads time from now.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	cp := *p
	cp.now = now
	return &cp
}

// Parse builds a FieldSet from zone text and an optional barcode payload.
func (p *Parser) Parse(zones []ocr.ZoneExtraction, barcode *string) *FieldSet {
	return p.ParseInput(Input{Zones: zones, Barcode: barcode})
}

// ParseInput is Parse with an explicit capture timestamp.
func (p *Parser) ParseInput(in Input) *FieldSet {
	text := map[string]string{}
	for _, z := range in.Zones {
		t := NormalizeText(z.Text)
		if prev, ok := text[z.Zone]; ok && prev != "" {
			t = prev + "\n" + t
		}
		text[z.Zone] = t
	}
	header, body, footer := text[ocr.ZoneHeader], text[ocr.ZoneBody], text[ocr.ZoneFooter]

	fs := &FieldSet{Source: SourceNone}

	fromBarcode := false
	if in.Barcode != nil && strings.TrimSpace(*in.Barcode) != "" {
		raw := strings.TrimSpace(*in.Barcode)
		fs.Barcode = &raw
		id := identifiersFromBarcode(raw)
		fs.TrackingID, fs.OrderID, fs.SortCode = strPtr(id.tracking), strPtr(id.order), strPtr(id.sort)
		if !id.empty() {
			fromBarcode = true
			fs.Source = SourceBarcode
		}
	} else {
		id := identifiersFromText(header)
		fs.TrackingID, fs.OrderID, fs.SortCode = strPtr(id.tracking), strPtr(id.order), strPtr(id.sort)
		if !id.empty() {
			fs.Source = SourceOCR
		}
	}

	// The body zone overlaps the header, so the buyer block may start there.
	if buyer, ok := buyerSection(joinNonEmpty(body, footer)); ok {
		fs.BuyerName = strPtr(cleanName(buyer.name))
		fs.BuyerAddress = strPtr(cleanAddress(buyer.address))
	}
	address := ""
	if fs.BuyerAddress != nil {
		address = *fs.BuyerAddress
	}
	fs.District = strPtr(findDistrict(body, footer, address))

	measures := joinNonEmpty(body, footer)
	if w, ok := ParseWeight(measures); ok {
		fs.Weight = &w
	}
	if q, ok := ParseQuantity(measures); ok {
		fs.Quantity = &q
	}

	fs.Confidence = p.confidence(in.Zones, fromBarcode)
	fs.Timestamp = p.timestamp(in.Timestamp)

	slog.Debug("Fields parsed",
		"populated", fs.Populated(),
		"source", fs.Source,
		"confidence", fs.Confidence)
	return fs
}

func joinNonEmpty(parts ...string) string {
	var keep []string
	for _, s := range parts {
		if s != "" {
			keep = append(keep, s)
		}
	}
	return strings.Join(keep, "\n")
}

func (p *Parser) weight(zone string) float64 {
	switch zone {
	case ocr.ZoneHeader:
		return p.cfg.HeaderWeight
	case ocr.ZoneBody:
		return p.cfg.BodyWeight
	case ocr.ZoneFooter:
		return p.cfg.FooterWeight
	default:
		return 0
	}
}

// confidence is the weighted mean of the zone scores present. When the
// barcode supplied the identifiers the header counts as fully confident.
func (p *Parser) confidence(zones []ocr.ZoneExtraction, fromBarcode bool) float64 {
	var sum, weights float64
	sawHeader := false
	for _, z := range zones {
		w := p.weight(z.Zone)
		if w <= 0 {
			continue
		}
		c := ClampConfidence(z.Confidence)
		if z.Zone == ocr.ZoneHeader {
			sawHeader = true
			if fromBarcode {
				c = 1
			}
		}
		sum += w * c
		weights += w
	}
	if fromBarcode && !sawHeader {
		sum += p.cfg.HeaderWeight
		weights += p.cfg.HeaderWeight
	}
	if weights <= 0 || math.IsNaN(sum) {
		return 0
	}
	return ClampConfidence(sum / weights)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
	"02-01-2006 15:04",
	"2006-01-02",
}

// timestamp returns raw in RFC 3339 when it parses, else the current time.
func (p *Parser) timestamp(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.Format(time.RFC3339)
			}
		}
		slog.Debug("Unparseable timestamp replaced", "value", raw)
	}
	return p.now().Format(time.RFC3339)
}
