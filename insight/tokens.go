package insight

import (
	"math"
	"strings"
	"unicode"
)

// EstimateTokens gives a rough token count: 1.5 per Han character plus one
// per whitespace-separated word of the remaining text.
func EstimateTokens(text string) int {
	han := 0
	var rest strings.Builder
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			han++
			rest.WriteRune(' ')
			continue
		}
		rest.WriteRune(r)
	}
	return int(math.Ceil(float64(han)*1.5)) + len(strings.Fields(rest.String()))
}
