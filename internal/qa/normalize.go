package qa

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

var (
	mdImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmphasis = strings.NewReplacer("**", "", "*", "", "`", "", "~~", "", "#", "")
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes free text for scoring and fingerprinting: markup
// and markdown artifacts are stripped, entities decoded, Unicode folded to
// NFKC, whitespace collapsed, and the result lowercased.
//
// Invariant: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	s := text
	// Strip markup to a fixed point so that entity-escaped markup
	// (e.g. "&lt;b&gt;") cannot survive a single pass.
	for i := 0; i < 4; i++ {
		out := stripMarkup(s)
		if out == s {
			break
		}
		s = out
	}
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdEmphasis.Replace(s)
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// stripMarkup removes HTML tags and decodes entities. Plain text passes
// through unchanged.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}

// NormalizedLength returns the rune count of the normalized form of text.
func NormalizedLength(text string) int {
	return len([]rune(Normalize(text)))
}
