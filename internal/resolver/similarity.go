package resolver

import (
	"strings"

	"github.com/agext/levenshtein"
)

// normalizeTitle lowercases a title and collapses punctuation and whitespace
// so cosmetic edits between notice versions do not depress similarity.
func normalizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// TitleSimilarity returns the normalized Levenshtein similarity of two titles
// in [0, 1]. Two empty titles are not similar; there is nothing to compare.
func TitleSimilarity(a, b string) float64 {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	return levenshtein.Similarity(na, nb, nil)
}

// commonPrefixLen counts the shared leading bytes of the normalized titles.
func commonPrefixLen(a, b string) int {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	n := 0
	for n < len(na) && n < len(nb) && na[n] == nb[n] {
		n++
	}
	return n
}
