package fields

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// identifiers groups the three fields a barcode can supply.
type identifiers struct {
	tracking string
	order    string
	sort     string
}

func (id identifiers) empty() bool {
	return id.tracking == "" && id.order == "" && id.sort == ""
}

// digitConfusions maps letters OCR commonly returns in place of digits.
var digitConfusions = map[rune]rune{
	'O': '0', 'o': '0', 'Q': '0',
	'I': '1', 'l': '1', '|': '1', '!': '1',
	'S': '5', 's': '5',
	'B': '8',
	'Z': '2',
}

// repairDigits replaces confusable letters inside digit runs. Text is split
// into segments at characters that are neither alphanumeric nor confusable.
// A segment made only of digits and confusables (with at least one digit) is
// repaired whole; elsewhere a confusable is converted only when the nearest
// non-confusable characters on both sides are digits, so carrier prefixes
// such as "JB" or "IDS" stay letters.
func repairDigits(s string) string {
	rs := []rune(s)
	out := make([]rune, len(rs))
	copy(out, rs)

	inSegment := func(r rune) bool {
		_, conf := digitConfusions[r]
		return conf || unicode.IsLetter(r) || unicode.IsDigit(r)
	}
	// nearest reports whether the closest non-confusable rune in direction
	// step, within [lo, hi), is a digit.
	nearest := func(i, step, lo, hi int) bool {
		for j := i + step; j >= lo && j < hi; j += step {
			if _, conf := digitConfusions[rs[j]]; conf {
				continue
			}
			return unicode.IsDigit(rs[j])
		}
		return false
	}

	for lo := 0; lo < len(rs); {
		if !inSegment(rs[lo]) {
			lo++
			continue
		}
		hi := lo
		numeric, digits := true, 0
		for ; hi < len(rs) && inSegment(rs[hi]); hi++ {
			if unicode.IsDigit(rs[hi]) {
				digits++
			} else if _, conf := digitConfusions[rs[hi]]; !conf {
				numeric = false
			}
		}
		numeric = numeric && digits > 0

		for i := lo; i < hi; i++ {
			d, conf := digitConfusions[rs[i]]
			if !conf {
				continue
			}
			if numeric || (nearest(i, -1, lo, hi) && nearest(i, 1, lo, hi)) {
				out[i] = d
			}
		}
		lo = hi
	}
	return string(out)
}

// cleanIdentifier uppercases, drops stray punctuation (keeping inner
// hyphens) and repairs digit confusions.
func cleanIdentifier(s string) string {
	s = repairDigits(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}

var (
	trackingLabelRe = regexp.MustCompile(`(?i)\b(?:tracking|resi|awb|no\.?\s*resi|airwaybill)\b\s*(?:no\.?|number|id|#)?\s*[:#.\-]?\s*(.*)$`)
	orderLabelRe    = regexp.MustCompile(`(?i)\b(?:order|pesanan|no\.?\s*pesanan)\b\s*(?:no\.?|number|id|#)?\s*[:#.\-]?\s*(.*)$`)
	sortLabelRe     = regexp.MustCompile(`(?i)\b(?:sort(?:ing)?(?:\s*code)?|kode\s*sortir)\b\s*[:#.\-]?\s*(.*)$`)

	// Carrier-style tracking numbers: a short letter prefix and a long digit run.
	trackingBareRe = regexp.MustCompile(`\b[A-Z]{2,5}[0-9]{8,}\b`)
	sortBareRe     = regexp.MustCompile(`\b[0-9]{1,3}-[A-Z]{1,2}-[0-9]{1,3}\b`)

	sortShapeRe = regexp.MustCompile(`^[A-Z0-9]{1,4}(?:-[A-Z0-9]{1,4}){0,3}$`)

	// Words that start another labelled value on the same line.
	labelStopRe = regexp.MustCompile(`(?i)^(?:tracking|resi|awb|order|pesanan|sort|kode|berat|weight|qty|date|tanggal)`)
)

// takeValue collects whitespace-separated tokens from the text following a
// label until another label starts or a token without digits appears after
// the first one.
func takeValue(rest string) string {
	var parts []string
	for i, tok := range strings.Fields(rest) {
		if labelStopRe.MatchString(tok) {
			break
		}
		if i > 0 && !strings.ContainsFunc(repairDigits(tok), unicode.IsDigit) {
			break
		}
		parts = append(parts, tok)
	}
	return strings.Join(parts, "")
}

// identifiersFromText pattern-matches the header text. Labelled values win
// over bare carrier-shaped tokens.
func identifiersFromText(text string) identifiers {
	var id identifiers
	for _, line := range lines(text) {
		if id.tracking == "" {
			if m := trackingLabelRe.FindStringSubmatch(line); m != nil {
				if v := cleanIdentifier(takeValue(m[1])); len(v) >= 6 {
					id.tracking = v
				}
			}
		}
		if id.order == "" {
			if m := orderLabelRe.FindStringSubmatch(line); m != nil {
				if v := cleanIdentifier(takeValue(m[1])); len(v) >= 6 {
					id.order = v
				}
			}
		}
		if id.sort == "" {
			if m := sortLabelRe.FindStringSubmatch(line); m != nil {
				fields := strings.Fields(m[1])
				if len(fields) > 0 {
					if v := cleanIdentifier(fields[0]); sortShapeRe.MatchString(v) {
						id.sort = v
					}
				}
			}
		}
	}

	if id.tracking == "" || id.sort == "" {
		for _, line := range lines(text) {
			repaired := strings.ToUpper(repairDigits(line))
			if id.tracking == "" {
				if m := trackingBareRe.FindString(repaired); m != "" && m != id.order {
					id.tracking = m
				}
			}
			if id.sort == "" {
				if m := sortBareRe.FindString(repaired); m != "" {
					id.sort = m
				}
			}
		}
	}
	return id
}

// payloadKey folds snake, camel and spaced key spellings to one form.
func payloadKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	switch key := b.String(); key {
	case "tracking", "trackingid", "trackingno", "trackingnumber", "resi", "noresi", "awb", "tn":
		return "tracking"
	case "order", "orderid", "orderno", "ordernumber", "pesanan", "nopesanan":
		return "order"
	case "sort", "sortcode", "sortingcode", "kodesortir":
		return "sort"
	default:
		return key
	}
}

// set stores a decoded payload value. Decoded symbols are exact, so only
// whitespace is removed; no confusion repair is applied.
func (id *identifiers) set(key, value string) {
	v := strings.Join(strings.Fields(value), "")
	if v == "" {
		return
	}
	switch payloadKey(key) {
	case "tracking":
		id.tracking = v
	case "order":
		id.order = v
	case "sort":
		id.sort = v
	}
}

var pairSepRe = regexp.MustCompile(`[|;&\n,]+`)

// identifiersFromBarcode interprets a decoded payload. JSON objects and
// key=value lists are read by key; a bare "|" list is positional
// (tracking|order|sort); anything else is the tracking number itself.
func identifiersFromBarcode(payload string) identifiers {
	payload = strings.TrimSpace(payload)
	var id identifiers
	if payload == "" {
		return id
	}

	if strings.HasPrefix(payload, "{") {
		// Numbers stay json.Number so long numeric ids keep every digit.
		var obj map[string]any
		dec := json.NewDecoder(strings.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&obj); err == nil {
			for k, v := range obj {
				switch tv := v.(type) {
				case string:
					id.set(k, tv)
				case json.Number:
					id.set(k, tv.String())
				}
			}
			return id
		}
	}

	if strings.Contains(payload, "=") || strings.Contains(payload, ":") {
		for _, pair := range pairSepRe.Split(payload, -1) {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				k, v, ok = strings.Cut(pair, ":")
			}
			if ok {
				id.set(k, v)
			}
		}
		if !id.empty() {
			return id
		}
	}

	if strings.Contains(payload, "|") {
		parts := strings.Split(payload, "|")
		keys := []string{"tracking", "order", "sort"}
		for i, p := range parts {
			if i < len(keys) {
				id.set(keys[i], p)
			}
		}
		return id
	}

	id.set("tracking", payload)
	return id
}
