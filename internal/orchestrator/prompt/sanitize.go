package prompt

import (
	"regexp"
	"strings"
)

var (
	codeFenceRegex  = regexp.MustCompile("(?s)```.*?```")
	danglingFence   = regexp.MustCompile("```+")
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	headerLineRegex = regexp.MustCompile(`(?m)^\s*#{2,}\s*`)
)

// Sanitize cleans a value before it is interpolated into a system prompt.
// Markdown headers of level two and deeper, code fences, and HTML tags are
// stripped; a single leading # survives. Kid-supplied strings must never be
// able to restructure the prompt.
func Sanitize(value string) string {
	s := codeFenceRegex.ReplaceAllString(value, "")
	s = danglingFence.ReplaceAllString(s, "")
	s = htmlTagRegex.ReplaceAllString(s, "")
	s = headerLineRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
