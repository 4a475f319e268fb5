package search

import (
	"fmt"

	"lexitrend-go/utils"
)

const (
	// ToolMaxResults caps results handed to a model
	ToolMaxResults = 5
	// ToolContentLimit caps each result's content, in runes
	ToolContentLimit = 500
)

// Summary is a trimmed result handed to a model as tool output.
type Summary struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Summarize keeps the first limit results with content cut to contentLimit runes.
func Summarize(resp *Response, limit, contentLimit int) []Summary {
	if resp == nil {
		return []Summary{}
	}
	if limit <= 0 || limit > len(resp.Results) {
		limit = len(resp.Results)
	}
	out := make([]Summary, 0, limit)
	for _, r := range resp.Results[:limit] {
		out = append(out, Summary{
			Title:   r.Title,
			URL:     r.URL,
			Content: utils.TruncateRunes(r.Content, contentLimit),
			Score:   r.Score,
		})
	}
	return out
}

// Relevance renders a score the way sources display it.
func Relevance(score float64) string {
	return fmt.Sprintf("relevance score: %v", score)
}
