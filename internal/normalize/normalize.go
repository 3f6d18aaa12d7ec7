// Package normalize provides utilities for normalizing and sanitizing metadata text.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Fold lowercases a string and decomposes accented characters to their
// ASCII base forms. "Émile Zola" -> "emile zola".
// Used to make title and contributor comparisons accent-insensitive.
func Fold(s string) string {
	// Decompose accented characters (é -> e + combining accent).
	s = norm.NFKD.String(s)

	// Drop combining marks and other non-ASCII runes.
	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)

	return strings.ToLower(strings.TrimSpace(s))
}

// Title normalizes a book title for comparison.
// Folds accents, removes leading articles and punctuation, collapses whitespace.
func Title(s string) string {
	s = Fold(sanitizeString(s))

	// Remove leading articles
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(s, article) {
			s = s[len(article):]
			break
		}
	}

	// Remove punctuation
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}

	// Collapse multiple spaces
	return strings.Join(strings.Fields(result.String()), " ")
}

// Person normalizes a contributor name for comparison.
// Folds accents, removes punctuation, collapses whitespace. Unlike Title,
// leading articles are kept since names legitimately start with them.
func Person(s string) string {
	s = Fold(sanitizeString(s))

	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(result.String()), " ")
}

// ISBN canonicalizes an ISBN: strips hyphens and spaces, uppercases the
// check character. Returns empty string if the result is not a plausible
// ISBN-10 or ISBN-13.
func ISBN(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		case r == '-' || r == ' ':
			// separator, drop
		default:
			return ""
		}
	}

	out := b.String()
	switch len(out) {
	case 10:
		return out
	case 13:
		// ISBN-13 never uses the X check character
		if strings.ContainsRune(out, 'X') {
			return ""
		}
		return out
	default:
		return ""
	}
}

// sanitizeString removes null bytes, which can cause issues in databases
// and JSON parsing. Some upstream metadata sources include null terminators.
func sanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		return r
	}, s)
}
