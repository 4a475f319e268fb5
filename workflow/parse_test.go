package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseText(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		lang        string
		wantDef     string
		wantContext string
	}{
		{
			name:        "ascii labels",
			text:        "Definition: A slang word for cool\nCultural: Popular on social media",
			lang:        "en",
			wantDef:     "A slang word for cool",
			wantContext: "Popular on social media",
		},
		{
			name:        "full-width colon",
			text:        "定义：网络流行语\n文化背景：源自短视频平台",
			lang:        "zh",
			wantDef:     "网络流行语",
			wantContext: "源自短视频平台",
		},
		{
			name:        "earliest colon wins",
			text:        "Definition: ratio：one\nCultural: x",
			lang:        "en",
			wantDef:     "ratio：one",
			wantContext: "x",
		},
		{
			name:        "content on next line",
			text:        "Definition:\nA word\nCultural context:\nEverywhere",
			lang:        "en",
			wantDef:     "A word",
			wantContext: "Everywhere",
		},
		{
			name:        "sentence split",
			text:        "It means cool. Teens use it a lot! Mostly online?",
			lang:        "en",
			wantDef:     "It means cool",
			wantContext: "Teens use it a lot。Mostly online",
		},
		{
			name:        "single sentence",
			text:        "It means cool",
			lang:        "en",
			wantDef:     "It means cool",
			wantContext: "More cultural context is needed.",
		},
		{
			name:        "only definition labeled",
			text:        "Definition: A word",
			lang:        "ja",
			wantDef:     "A word",
			wantContext: "文化的背景を分析中...",
		},
		{
			name:        "empty text",
			text:        "",
			lang:        "ko",
			wantDef:     "정의를 분석하는 중...",
			wantContext: "문화적 배경 정보가 더 필요합니다.",
		},
		{
			name:        "unknown language uses english placeholders",
			text:        "   ",
			lang:        "fr",
			wantDef:     "Definition is being analyzed...",
			wantContext: "More cultural context is needed.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseText(tt.text, tt.lang, false, 0)
			assert.Equal(t, tt.wantDef, got.Definition)
			assert.Equal(t, tt.wantContext, got.CulturalContext)
		})
	}
}

func TestParseTextConfidence(t *testing.T) {
	assert.Equal(t, 0.7, ParseText("x", "en", false, 3).Confidence)
	assert.Equal(t, 0.7, ParseText("x", "en", true, 0).Confidence)
	assert.InDelta(t, 0.9, ParseText("x", "en", true, 2).Confidence, 1e-9)
}

func TestParseTextKeepsLongSentence(t *testing.T) {
	long := strings.Repeat("字", 300)
	got := ParseText(long, "zh", false, 0)
	assert.Equal(t, long, got.Definition)
	assert.Equal(t, "需要更多文化背景信息。", got.CulturalContext)
}

func TestParseTextPunctuationOnly(t *testing.T) {
	got := ParseText("?!.", "en", false, 0)
	assert.Equal(t, "?!.", got.Definition)
	assert.Equal(t, "More cultural context is needed.", got.CulturalContext)
}
