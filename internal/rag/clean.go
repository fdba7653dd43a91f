package rag

import (
	"regexp"
	"strings"
)

// space matches what unicode.IsSpace reports, so the final trim never
// uncovers a page number that the line filter missed.
const space = `[\s\v\x{85}\p{Z}]`

var (
	pageNumberLine = regexp.MustCompile(`(?m)^` + space + `*\d+` + space + `*$`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	whitespaceRun  = regexp.MustCompile(space + `+`)
)

// Clean normalizes raw page text: page-number-only lines are dropped, runs of
// three or more newlines become a paragraph break and every remaining
// whitespace run collapses to a single space. Clean is idempotent.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = pageNumberLine.ReplaceAllString(text, "")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
