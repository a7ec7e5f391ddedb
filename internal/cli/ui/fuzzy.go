package ui

import (
	"sort"
	"strings"
)

const (
	// maxSuggestDistance is the largest edit distance still offered as a typo fix
	maxSuggestDistance = 2
	// maxSuggestions caps the "Did you mean" list
	maxSuggestions = 3
	prefixLength   = 3
)

// Suggest returns candidates that look like misspellings of name: those
// sharing a case-insensitive prefix of up to three characters, then those
// within a small edit distance, in candidate order within each group.
//
// Example:
//
//	Suggest("ordr", []string{"Customer", "Order", "OrderDetail"})
//	// Returns: ["Order", "OrderDetail"]
func Suggest(name string, candidates []string) []string {
	lower := strings.ToLower(name)
	prefix := lower
	if len(prefix) > prefixLength {
		prefix = prefix[:prefixLength]
	}

	type match struct {
		value    string
		distance int
		order    int
	}
	var matches []match
	for i, c := range candidates {
		lc := strings.ToLower(c)
		switch {
		case strings.HasPrefix(lc, prefix):
			matches = append(matches, match{c, -1, i})
		default:
			if d := LevenshteinDistance(lower, lc); d <= maxSuggestDistance {
				matches = append(matches, match{c, d, i})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].order < matches[j].order
	})

	var out []string
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.value)
	}
	return out
}

// LevenshteinDistance is the number of single-rune edits turning s1 into s2
func LevenshteinDistance(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
