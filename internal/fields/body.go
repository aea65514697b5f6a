package fields

import (
	"regexp"
	"strings"
)

var (
	buyerAnchorRe  = regexp.MustCompile(`(?i)\b(?:buyer|penerima|recipient|ship\s*to|kepada)\b\s*[:\-]?\s*`)
	sellerAnchorRe = regexp.MustCompile(`(?i)\b(?:seller|pengirim|sender|from|dari)\b\s*[:\-]?\s*`)

	// Lines that end an address block.
	addressStopRe = regexp.MustCompile(`(?i)^(?:berat|weight|qty|quantity|jumlah|cod|catatan|note|district)\b`)

	districtLabelRe = regexp.MustCompile(`(?i)\b(?:district|kabupaten|kab\.|kota)\s*[:\-]?\s*([\p{L} .]+)`)
	kecamatanRe     = regexp.MustCompile(`(?i)\b(?:kecamatan|kec\.)\s*([\p{L} ]+)`)
	phoneRe         = regexp.MustCompile(`^\(?\+?[0-9*][0-9*()\- ]{6,}$`)
	lettersOnlyRe   = regexp.MustCompile(`^[\p{L} .\-]{4,}$`)
)

// party is what lies between a buyer anchor and the next anchor.
type party struct {
	name    string
	address []string
}

// buyerSection finds the buyer block in body text. The name is the rest of
// the anchor line (or the next line when the anchor stands alone); the
// address is every following line until a seller anchor or a stop line.
func buyerSection(body string) (party, bool) {
	ls := lines(body)
	for i, line := range ls {
		loc := buyerAnchorRe.FindStringIndex(line)
		if loc == nil {
			continue
		}
		var p party
		rest := strings.TrimSpace(line[loc[1]:])
		if s := sellerAnchorRe.FindStringIndex(rest); s != nil {
			rest = strings.TrimSpace(rest[:s[0]])
		}
		j := i + 1
		if rest == "" && j < len(ls) && !isStopLine(ls[j]) {
			rest = ls[j]
			j++
		}
		p.name = rest
		for ; j < len(ls); j++ {
			if isStopLine(ls[j]) {
				break
			}
			if phoneRe.MatchString(ls[j]) {
				continue
			}
			p.address = append(p.address, ls[j])
		}
		return p, p.name != "" || len(p.address) > 0
	}
	return party{}, false
}

func isStopLine(l string) bool {
	return sellerAnchorRe.MatchString(l) || buyerAnchorRe.MatchString(l) || addressStopRe.MatchString(l)
}

// Address cleanup, applied in order. Each rule targets one failure mode.
var (
	leadingPunctRe   = regexp.MustCompile(`^[^\p{L}\p{N}]+`)
	leadingDigitJunk = regexp.MustCompile(`^[0-9]{1,2}[^\p{L}\p{N}\s]+\s*`)
	strayLetterRe    = regexp.MustCompile(`^\p{L}\s+(\p{Lu})`)
	postalCodeRe     = regexp.MustCompile(`\b[0-9]{5}\b`)
	wordRe           = regexp.MustCompile(`\p{L}{3,}`)
	trailingPunctRe  = regexp.MustCompile(`[\s,;:\-]+$`)
)

// CleanAddressLine strips line-start noise, a single stray leading letter
// and any short junk after a postal code.
func CleanAddressLine(l string) string {
	l = leadingPunctRe.ReplaceAllString(l, "")
	l = leadingDigitJunk.ReplaceAllString(l, "")
	l = strayLetterRe.ReplaceAllString(l, "$1")
	if locs := postalCodeRe.FindAllStringIndex(l, -1); len(locs) > 0 {
		end := locs[len(locs)-1][1]
		if !wordRe.MatchString(l[end:]) {
			l = l[:end]
		}
	}
	l = spaceRunRe.ReplaceAllString(l, " ")
	return strings.TrimSpace(trailingPunctRe.ReplaceAllString(l, ""))
}

// cleanAddress cleans each line and joins the survivors with ", ".
func cleanAddress(ls []string) string {
	var out []string
	for _, l := range ls {
		if c := CleanAddressLine(l); c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, ", ")
}

func cleanName(s string) string {
	s = CleanAddressLine(s)
	if phoneRe.MatchString(s) {
		return ""
	}
	return s
}

// findDistrict prefers an explicit district label, then a kecamatan in the
// address, then a letters-only footer line.
func findDistrict(body, footer, address string) string {
	for _, text := range []string{footer, body} {
		for _, l := range lines(text) {
			if m := districtLabelRe.FindStringSubmatch(l); m != nil {
				if v := strings.TrimSpace(m[1]); v != "" {
					return v
				}
			}
		}
	}
	if m := kecamatanRe.FindStringSubmatch(address); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			return v
		}
	}
	for _, l := range lines(footer) {
		if lettersOnlyRe.MatchString(l) && !isStopLine(l) {
			return strings.TrimSpace(l)
		}
	}
	return ""
}
