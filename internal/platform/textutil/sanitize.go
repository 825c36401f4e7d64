package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from user-supplied text, collapses whitespace runs and removes control
// characters. Entities produced by the sanitiser are decoded so stored values stay human readable.
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(input))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

// PlainTextMax sanitises input and truncates it to at most limit runes.
func PlainTextMax(input string, limit int) string {
	cleaned := PlainText(input)
	if limit <= 0 {
		return cleaned
	}
	runes := []rune(cleaned)
	if len(runes) <= limit {
		return cleaned
	}
	return strings.TrimSpace(string(runes[:limit]))
}
