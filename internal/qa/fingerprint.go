package qa

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics decomposes to NFD, drops combining marks, and recomposes,
// so "Café" and "Cafe" fingerprint identically.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// ConceptKey derives the duplicate-detection key for a product from its
// title and category. The key is a pure function of the normalized inputs:
// case, surrounding whitespace, punctuation and diacritics do not affect it.
// This is a coarse textual identity, not semantic similarity.
func ConceptKey(title, productType string) string {
	return slug(title) + "|" + slug(productType)
}

func slug(text string) string {
	s := Normalize(text)
	if folded, _, err := transform.String(foldDiacritics, s); err == nil {
		s = folded
	}
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte('-')
			}
			space = false
			b.WriteRune(r)
		default:
			// Punctuation and whitespace both act as soft separators.
			space = true
		}
	}
	return b.String()
}
