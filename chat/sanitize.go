package chat

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const maxNameLen = 24

var (
	// terminal output renders no markup, so both policies strip every tag
	namePolicy    = bluemonday.StrictPolicy()
	contentPolicy = bluemonday.StrictPolicy()
)

// SanitizeName strips markup from a display name. It returns "" when nothing
// printable is left so callers can pick a fallback.
func SanitizeName(name string) string {
	if name == "" {
		return ""
	}
	s := html.UnescapeString(namePolicy.Sanitize(html.UnescapeString(name)))
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxNameLen {
		s = string(r[:maxNameLen])
	}
	return s
}

// SanitizeContent strips markup from received text.
func SanitizeContent(text string) string {
	if text == "" {
		return ""
	}
	s := contentPolicy.Sanitize(html.UnescapeString(text))
	return strings.TrimSpace(html.UnescapeString(s))
}
