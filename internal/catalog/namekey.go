package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips diacritics: decompose, drop combining marks,
// recompose. "Mleko łaciate" and "Mleko laciate" fold to the same key.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NameKey folds a product name into the key used for fuzzy duplicate
// detection: lowercase, diacritics removed, runs of non-alphanumerics
// collapsed to a single space. Token order is preserved.
func NameKey(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
