package fields

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// typographic punctuation OCR engines like to emit, mapped to ASCII.
var punctReplacer = strings.NewReplacer(
	"\u2018", "'",
	"\u2019", "'",
	"\u201C", "\"",
	"\u201D", "\"",
	"\u2013", "-",
	"\u2014", "-",
	"\u00A0", " ",
	"\u2009", " ",
)

var spaceRunRe = regexp.MustCompile(`[ \t]+`)

// NormalizeText applies NFKC, drops zero-width and control characters, maps
// typographic punctuation to ASCII and collapses horizontal whitespace.
// Line breaks are kept because the body parser works line by line.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\u200B', r == '\u200C', r == '\u200D', r == '\uFEFF':
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	s = punctReplacer.Replace(b.String())

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(spaceRunRe.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// lines splits normalized text into non-empty lines.
func lines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
