// Package similarity scores stream-name matches and ranks nearest-stream
// candidates by fused name and distance evidence.
package similarity

import (
	"strings"
)

// Trigrams returns the set of padded three-character substrings of s.
//
// Each whitespace-separated word is lower-cased and padded with two leading
// spaces and one trailing space before the substrings are taken. Runes, not
// bytes, are the unit, so accented names score the same on every platform.
func Trigrams(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words)*4)
	for _, w := range words {
		r := []rune("  " + w + " ")
		for i := 0; i+3 <= len(r); i++ {
			set[string(r[i:i+3])] = struct{}{}
		}
	}
	return set
}

// Score returns |A ∩ B| / |A ∪ B| over the trigram sets of a and b.
// It returns 0 when either side has no trigrams.
func Score(a, b string) float64 {
	ta, tb := Trigrams(a), Trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}
