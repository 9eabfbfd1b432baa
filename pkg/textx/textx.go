// Package textx provides small text utilities used across the project.
package textx

import "strings"

// SanitizeText strips control characters except tab, newline and carriage
// return, then trims surrounding whitespace. Parser output passes through
// here before it reaches the standardizer.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(r)
		case r >= 32 && r != 127:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeEmail lowercases and trims an address so submitted and extracted
// contact fields compare equal.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
