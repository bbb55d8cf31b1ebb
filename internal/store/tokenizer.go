package store

import (
	"strings"
	"unicode"
)

// Tokenize lowercases, strips all characters that are neither word
// characters, whitespace, nor an apostrophe, splits on whitespace, and
// drops empty tokens. Deliberately no stemming and no stopword list —
// the corpora indexed here are multilingual and a stopword list tuned
// for one language would silently degrade recall in another.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r), r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
