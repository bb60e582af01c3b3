// Package normalize turns markdown article bodies into plain text suitable
// for embedding.
package normalize

import (
	"regexp"
	"strings"
)

var (
	reFencedCode  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode  = regexp.MustCompile("`[^`]*`")
	reHTMLTag     = regexp.MustCompile(`<[^>]+>`)
	reLink        = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reImage       = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	reHeading     = regexp.MustCompile(`(?m)^#+\s*`)
	reListMarker  = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	rePunctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	reWhitespace  = regexp.MustCompile(`\s+`)
)

// Text strips markdown and HTML formatting down to plain inline text.
// It is pure and total: any input, including empty or punctuation-only
// strings, normalizes to a non-empty result because the embedding model
// must always receive non-empty input.
func Text(raw string) string {
	clean := reFencedCode.ReplaceAllString(raw, " ")
	clean = reInlineCode.ReplaceAllString(clean, " ")
	clean = reHTMLTag.ReplaceAllString(clean, " ")
	clean = reImage.ReplaceAllString(clean, " ")
	clean = reLink.ReplaceAllString(clean, "$1")
	clean = reHeading.ReplaceAllString(clean, "")
	clean = reListMarker.ReplaceAllString(clean, "")
	clean = rePunctuation.ReplaceAllString(clean, "")
	clean = reWhitespace.ReplaceAllString(clean, " ")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return " "
	}
	return clean
}
