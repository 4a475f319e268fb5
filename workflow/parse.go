package workflow

import (
	"regexp"
	"strings"
)

const (
	baseConfidence   = 0.7
	searchBoost      = 0.2
	maxParsedConf    = 0.9
	definitionRunes  = 200
	contextSeparator = "。"
)

var (
	definitionLabels = []string{"定义", "Definition", "是指", "refers to"}
	contextLabels    = []string{"文化", "Cultural", "背景", "context"}
	sentenceBreak    = regexp.MustCompile(`[。！？.!?]`)
)

type placeholderSet struct {
	definition, context, moreContext string
}

var placeholders = map[string]placeholderSet{
	"zh": {"定义解析中...", "文化背景分析中...", "需要更多文化背景信息。"},
	"en": {"Definition is being analyzed...", "Cultural context is being analyzed...", "More cultural context is needed."},
	"ja": {"定義を解析中...", "文化的背景を分析中...", "文化的背景の情報がさらに必要です。"},
	"ko": {"정의를 분석하는 중...", "문화적 배경을 분석하는 중...", "문화적 배경 정보가 더 필요합니다."},
}

// Parsed is the outcome of the local text parser.
type Parsed struct {
	Definition      string
	CulturalContext string
	Confidence      float64
}

// ParseText turns free text into a definition and cultural context without a
// model. Labeled lines win; otherwise the first sentence is the definition and
// the rest the context. Both fields are always non-empty.
func ParseText(text, lang string, searchPerformed bool, sourceCount int) Parsed {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}

	var definition, culturalContext string
	for i, line := range lines {
		switch {
		case containsAny(line, definitionLabels):
			definition = labeledContent(lines, i)
		case containsAny(line, contextLabels):
			culturalContext = labeledContent(lines, i)
		}
	}

	ph, ok := placeholders[lang]
	if !ok {
		ph = placeholders["en"]
	}

	if definition == "" && culturalContext == "" {
		var sentences []string
		for _, s := range sentenceBreak.Split(text, -1) {
			if s = strings.TrimSpace(s); s != "" {
				sentences = append(sentences, s)
			}
		}
		if len(sentences) > 0 {
			definition = sentences[0]
			culturalContext = strings.Join(sentences[1:], contextSeparator)
		} else {
			definition = strings.TrimSpace(firstRunes(text, definitionRunes))
		}
		if culturalContext == "" {
			culturalContext = ph.moreContext
		}
	}

	confidence := baseConfidence
	if searchPerformed && sourceCount > 0 {
		confidence = min(maxParsedConf, confidence+searchBoost)
	}

	if definition == "" {
		definition = ph.definition
	}
	if culturalContext == "" {
		culturalContext = ph.context
	}
	return Parsed{Definition: definition, CulturalContext: culturalContext, Confidence: confidence}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// labeledContent returns what follows the first colon (full-width or ASCII)
// on lines[i], or the next line when nothing does.
func labeledContent(lines []string, i int) string {
	line := lines[i]
	idx, width := -1, 0
	if j := strings.Index(line, "："); j >= 0 {
		idx, width = j, len("：")
	}
	if j := strings.Index(line, ":"); j >= 0 && (idx < 0 || j < idx) {
		idx, width = j, 1
	}
	if idx >= 0 {
		if content := strings.TrimSpace(line[idx+width:]); content != "" {
			return content
		}
	}
	if i+1 < len(lines) {
		return strings.TrimSpace(lines[i+1])
	}
	return ""
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
