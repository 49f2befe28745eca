package matcher

import (
	"strings"

	"github.com/hbollon/go-edlib"
)

// Ratio is the normalised indel similarity of a and b on a 0–100 scale:
// 200·LCS / (|a|+|b|), measured in runes.
func Ratio(a, b string) float64 {
	la, lb := runeLen(a), runeLen(b)
	if la+lb == 0 {
		return 100
	}
	return 200 * float64(edlib.LCS(a, b)) / float64(la+lb)
}

// PartialRatio aligns the shorter string against every window of the
// longer one (including the partially overlapping head and tail windows)
// and returns the best Ratio. Empty input scores 0.
func PartialRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	best := partialRatio(ra, rb)
	if len(ra) == len(rb) && best < 100 {
		if s := partialRatio(rb, ra); s > best {
			best = s
		}
	}
	return best
}

func partialRatio(short, long []rune) float64 {
	needle := string(short)
	if strings.Contains(string(long), needle) {
		return 100
	}
	m, n := len(short), len(long)
	best := 0.0
	score := func(window []rune) bool {
		if s := Ratio(needle, string(window)); s > best {
			best = s
		}
		return best == 100
	}
	for i := 1; i < m; i++ {
		if score(long[:i]) {
			return best
		}
	}
	for i := 0; i+m <= n; i++ {
		if score(long[i : i+m]) {
			return best
		}
	}
	for i := n - m + 1; i < n; i++ {
		if i <= 0 {
			continue
		}
		if score(long[i:]) {
			return best
		}
	}
	return best
}

func runeLen(s string) int {
	return len([]rune(s))
}
