package resolve

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// TokenSortRatio computes similarity in [0,1] between two names:
// tokens are normalized, sorted and rejoined, then scored by
// Levenshtein ratio. Word order and legal suffixes do not matter.
func TokenSortRatio(a, b string) float64 {
	sa := tokenSort(NormalizeName(a))
	sb := tokenSort(NormalizeName(b))
	if sa == sb {
		return 1.0
	}
	if sa == "" || sb == "" {
		return 0.0
	}
	dist := levenshtein.ComputeDistance(sa, sb)
	maxLen := len([]rune(sa))
	if l := len([]rune(sb)); l > maxLen {
		maxLen = l
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

func tokenSort(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
