package utils

import (
	"regexp"
	"strings"
)

// Truncate is a simple string truncate
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup tags from a string and collapses the surrounding
// whitespace. Used to sanitize user text before it rides in an event payload.
func StripHTML(s string) string {
	stripped := htmlTagPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(stripped), " ")
}
