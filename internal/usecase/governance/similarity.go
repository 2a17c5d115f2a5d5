package governance

import (
	"strings"
	"unicode"
)

// Tokenize lower-cases s, strips punctuation and splits on whitespace.
func Tokenize(s string) []string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Fields(clean)
}

func tokenSet(s string) map[string]struct{} {
	toks := Tokenize(s)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

// ComputeSimilarity returns the Jaccard overlap of the token sets of a and b,
// or 0 when either set is empty.
func ComputeSimilarity(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	if len(sa) > len(sb) {
		sa, sb = sb, sa
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// DetectsLoop reports whether the last window intents, counting next as the
// newest, are all identical. A window of 1 or less never loops.
func DetectsLoop(history []string, next string, window int) bool {
	if window <= 1 || len(history) < window-1 {
		return false
	}
	for _, h := range history[len(history)-(window-1):] {
		if h != next {
			return false
		}
	}
	return true
}
