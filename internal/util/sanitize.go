package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxReasonRunes   = 256
	MaxUsernameRunes = 128
)

// SanitizeText strips control and invisible characters and truncates to
// maxRunes. It is used on operator-supplied text that ends up in logs, the
// event stream and the run journal.
func SanitizeText(s string, maxRunes int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	var b strings.Builder
	b.Grow(len(s))

	for _, char := range s {
		switch {
		case char == '\n' || char == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(char) || isInvisibleUnicode(char):
		default:
			b.WriteRune(char)
		}
	}

	cleaned := strings.TrimSpace(b.String())

	// Truncate by runes (not bytes) to avoid splitting multi-byte characters.
	if maxRunes > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxRunes {
			cleaned = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}

	return cleaned
}

// SanitizeUsername cleans a login identifier. Unlike SanitizeText it never
// turns inner whitespace into spaces: an identifier with whitespace inside is
// passed through trimmed so the identity service can reject it.
func SanitizeUsername(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, char := range strings.TrimSpace(s) {
		if unicode.IsControl(char) || isInvisibleUnicode(char) {
			continue
		}
		b.WriteRune(char)
	}

	runes := []rune(b.String())
	if len(runes) > MaxUsernameRunes {
		runes = runes[:MaxUsernameRunes]
	}
	return string(runes)
}

// isInvisibleUnicode returns true for zero-width, formatting, and other
// invisible characters.
func isInvisibleUnicode(r rune) bool {
	switch r {
	case
		'\u200B', // Zero-Width Space
		'\u200C', // Zero-Width Non-Joiner
		'\u200D', // Zero-Width Joiner
		'\u2060', // Word Joiner
		'\uFEFF': // Zero-Width No-Break Space / BOM
		return true
	}

	return unicode.Is(unicode.Cf, r)
}
