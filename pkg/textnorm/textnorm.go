// Package textnorm folds user-entered free text into a canonical form so that
// capitalization, accents and stray whitespace do not affect comparisons.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// newStripper returns a fresh transformer; transformers and casers are
// stateful and must not be shared between goroutines.
func newStripper() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Fold lowercases s, removes combining diacritics, trims it and collapses
// internal whitespace runs to a single space.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	stripped, _, err := transform.String(newStripper(), s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}

// Equal reports whether a and b are equal after folding.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Contains reports whether the folded s contains the folded substr.
// An empty substr never matches.
func Contains(s, substr string) bool {
	fs := Fold(substr)
	if fs == "" {
		return false
	}
	return strings.Contains(Fold(s), fs)
}

// Title renders a folded value for display, e.g. "bogota dc" → "Bogota Dc".
func Title(s string) string {
	return cases.Title(language.Und).String(Fold(s))
}
