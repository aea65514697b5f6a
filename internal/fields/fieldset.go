// Package fields turns raw zone text and an optional barcode payload into a
// canonical, validated FieldSet.
package fields

import "math"

// Source names where the identifier fields came from.
type Source string

const (
	SourceBarcode Source = "barcode"
	SourceOCR     Source = "ocr"
	SourceNone    Source = "none"
)

// FieldSet is the normalized output of one scan. Every key is always present
// in JSON; unknown values are null.
type FieldSet struct {
	TrackingID   *string `json:"tracking_id"`
	OrderID      *string `json:"order_id"`
	SortCode     *string `json:"sort_code"`
	District     *string `json:"district"`
	BuyerName    *string `json:"buyer_name"`
	BuyerAddress *string `json:"buyer_address"`
	Weight       *string `json:"weight"`
	Quantity     *int    `json:"quantity"`
	Confidence   float64 `json:"confidence"`
	Timestamp    string  `json:"timestamp"`
	Barcode      *string `json:"barcode"`
	Source       Source  `json:"source"`
}

// CoreFieldNames lists the identifier and address fields that decide whether
// a scan recognized anything at all.
var CoreFieldNames = []string{"tracking_id", "order_id", "sort_code", "district", "buyer_name", "buyer_address"}

// Populated returns the number of non-null core fields.
func (fs *FieldSet) Populated() int {
	if fs == nil {
		return 0
	}
	n := 0
	for _, v := range []*string{fs.TrackingID, fs.OrderID, fs.SortCode, fs.District, fs.BuyerName, fs.BuyerAddress} {
		if v != nil {
			n++
		}
	}
	return n
}

// Get returns a core or measure field by its JSON name.
func (fs *FieldSet) Get(name string) (string, bool) {
	var p *string
	switch name {
	case "tracking_id":
		p = fs.TrackingID
	case "order_id":
		p = fs.OrderID
	case "sort_code":
		p = fs.SortCode
	case "district":
		p = fs.District
	case "buyer_name":
		p = fs.BuyerName
	case "buyer_address":
		p = fs.BuyerAddress
	case "weight":
		p = fs.Weight
	case "barcode":
		p = fs.Barcode
	}
	if p == nil {
		return "", false
	}
	return *p, true
}

// ClampConfidence maps any float into [0,1]; NaN becomes 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 1:
		return 1
	default:
		return v
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
