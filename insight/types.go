// Package insight holds the domain types of a term analysis and the pure
// helpers around them: model selection, cache fingerprints, prompt
// languages and templates.
package insight

// Result is a basic term analysis.
type Result struct {
	Definition      string  `json:"definition"`
	CulturalContext string  `json:"culturalContext"`
	Confidence      float64 `json:"confidence"`
	Language        string  `json:"language"`
	Timestamp       int64   `json:"timestamp"`
}

// Source is one piece of web evidence used by an enhanced analysis.
type Source struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Relevance string `json:"relevance"`
}

// SearchMetadata records whether and how search contributed to a result.
type SearchMetadata struct {
	SearchPerformed bool     `json:"searchPerformed"`
	SearchQuery     string   `json:"searchQuery,omitempty"`
	LastUpdated     string   `json:"lastUpdated,omitempty"`
	Sources         []Source `json:"sources"`
}

// EnhancedResult is a Result enriched with search metadata.
type EnhancedResult struct {
	Result
	SearchMetadata SearchMetadata `json:"searchMetadata"`
}

// ClampConfidence keeps c within [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0 || c != c:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
