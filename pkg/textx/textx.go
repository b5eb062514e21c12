// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
	"unicode"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokenize lowercases s and splits it into letter/digit runs. Punctuation and
// whitespace are separators; the result carries no empty tokens.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HasAny reports whether tokens contains at least one of wanted.
func HasAny(tokens []string, wanted ...string) bool {
	for _, tok := range tokens {
		for _, w := range wanted {
			if tok == w {
				return true
			}
		}
	}
	return false
}
