package storage

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// identMaxLen matches the tightest identifier limit among supported backends
// (Postgres: 63 bytes).
const identMaxLen = 63

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeIdent converts an arbitrary input string into a safe, lowercase
// identifier suitable for column and table names:
//   - accents folded to their ASCII base letter
//   - lowercased
//   - separator runes collapsed to single underscores
//   - everything outside [a-z0-9_] dropped
//   - truncated to the backend identifier limit on a UTF-8 boundary
func NormalizeIdent(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if folded, _, err := transform.String(deaccent, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		if r == ' ' || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':' || r == ';' {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}

		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			lastUnderscore = r == '_'
			continue
		}

		// Drop everything else.
	}

	return truncateIdent(strings.Trim(b.String(), "_"))
}

// truncateIdent enforces identifier length limits while preserving UTF-8
// validity.
func truncateIdent(s string) string {
	if len(s) <= identMaxLen {
		return s
	}
	b := []byte(s)
	cut := identMaxLen
	for cut > 0 && !utf8.Valid(b[:cut]) {
		cut--
	}
	if cut <= 0 {
		return s[:identMaxLen]
	}
	return string(b[:cut])
}
