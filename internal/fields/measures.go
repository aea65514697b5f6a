package fields

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	weightRe   = regexp.MustCompile(`(?i)([0-9]+(?:[.,][0-9]+)?)\s*(kg|kgs|kilo(?:gram)?s?|gr|grs|gram|grams|g)\b`)
	quantityRe = regexp.MustCompile(`(?i)\b(?:qty|quantity|jumlah|jml)\s*[:x]?\s*([0-9]{1,4})\b`)
	pcsRe      = regexp.MustCompile(`(?i)\b([0-9]{1,4})\s*(?:pcs|pc|items?|buah)\b`)
)

// ParseWeight finds the first weight in text and renders it canonically in
// kilograms ("1.2 kg", "0.85 kg"). Decimal commas are accepted.
func ParseWeight(text string) (string, bool) {
	m := weightRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v <= 0 {
		return "", false
	}
	if !strings.HasPrefix(strings.ToLower(m[2]), "k") {
		v /= 1000
	}
	v = math.Round(v*1000) / 1000
	if v <= 0 {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + " kg", true
}

// ParseQuantity finds an item count ("qty: 2", "3 pcs").
func ParseQuantity(text string) (int, bool) {
	for _, re := range []*regexp.Regexp{quantityRe, pcsRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}
