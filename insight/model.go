package insight

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

// Tier is a backing model class.
type Tier string

const (
	TierFast    Tier = "fast"
	TierCapable Tier = "capable"
)

// Default model ids per tier.
const (
	DefaultFastModel    = "gemini-1.5-flash"
	DefaultCapableModel = "gemini-2.0-flash-lite"
)

// capableLengthThreshold is measured in UTF-16 code units so that stored
// fingerprints keep selecting the same model.
const capableLengthThreshold = 20

var uppercaseRun = regexp.MustCompile(`[A-Z]{2,}`)

// SelectModel picks the capable tier for long terms and terms containing
// a run of two or more uppercase letters, the fast tier otherwise.
func SelectModel(term string) Tier {
	if utf16Len(term) > capableLengthThreshold || uppercaseRun.MatchString(term) {
		return TierCapable
	}
	return TierFast
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Models maps tiers to concrete model ids.
type Models struct {
	Fast    string
	Capable string
}

// DefaultModels returns the built-in tier mapping.
func DefaultModels() Models {
	return Models{Fast: DefaultFastModel, Capable: DefaultCapableModel}
}

// For returns the model id for tier.
func (m Models) For(t Tier) string {
	if t == TierCapable {
		return m.Capable
	}
	return m.Fast
}

// Select is SelectModel followed by For.
func (m Models) Select(term string) string {
	return m.For(SelectModel(term))
}

// Supported lists both model ids.
func (m Models) Supported() []string {
	return []string{m.Fast, m.Capable}
}

// CacheKey is the fingerprint of a basic analysis.
func CacheKey(term, language, modelID string) string {
	return "insight:" + term + ":" + language + ":" + modelID
}

// EnhancedCacheKey is the fingerprint of an enhanced analysis.
func EnhancedCacheKey(term, language, modelID string) string {
	return "enhanced-insight:" + term + ":" + language + ":" + modelID
}

// RequestKey identifies concurrent requests for coalescing. The model is
// not part of it: one term and language share one in-flight job. The term
// goes last so that no term can imitate another kind or language.
func RequestKey(term, language string, enhanced bool) string {
	kind := "basic"
	if enhanced {
		kind = "enhanced"
	}
	return kind + ":" + language + ":" + term
}

// NormalizeTerm trims surrounding whitespace.
func NormalizeTerm(term string) string {
	return strings.TrimSpace(term)
}
