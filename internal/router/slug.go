package router

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	notSlugChars = regexp.MustCompile(`[^a-z0-9\s_-]`)
	slugSepRun   = regexp.MustCompile(`[\s_-]+`)
)

// slugify turns an arbitrary string into an ASCII slug: lowercase +
// trim, NFD-normalize and strip combining marks, drop anything outside
// [a-z0-9\s_-], collapse runs of whitespace/underscore/hyphen into a
// single hyphen, then trim leading/trailing hyphens. An empty result
// falls back to defaultWorkspace.
func slugify(text, defaultWorkspace string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return defaultWorkspace
	}

	decomposed := norm.NFD.String(text)
	var stripped strings.Builder
	stripped.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		stripped.WriteRune(r)
	}

	kept := notSlugChars.ReplaceAllString(stripped.String(), "")
	slug := slugSepRun.ReplaceAllString(kept, "-")
	slug = strings.Trim(slug, "-")

	if slug == "" {
		return defaultWorkspace
	}
	return slug
}
