package insight

import (
	"golang.org/x/text/language"
)

// DefaultLanguage is used when a requested language has no prompt template.
const DefaultLanguage = "en"

// Language describes a language the UI can offer.
type Language struct {
	Code       string `json:"value"`
	Label      string `json:"label"`
	NativeName string `json:"nativeName"`
}

// CoreLanguages have prompt templates.
var CoreLanguages = []Language{
	{Code: "zh", Label: "中文", NativeName: "中文"},
	{Code: "en", Label: "English", NativeName: "English"},
	{Code: "ja", Label: "日本語", NativeName: "日本語"},
	{Code: "ko", Label: "한국어", NativeName: "한국어"},
}

// ExtendedLanguages can be selected but are prompted in English.
var ExtendedLanguages = append(append([]Language{}, CoreLanguages...),
	Language{Code: "es", Label: "Español", NativeName: "Español"},
	Language{Code: "fr", Label: "Français", NativeName: "Français"},
	Language{Code: "de", Label: "Deutsch", NativeName: "Deutsch"},
	Language{Code: "pt", Label: "Português", NativeName: "Português"},
)

// default first so a weak match never beats it
var (
	promptTags = []language.Tag{
		language.English,
		language.Chinese,
		language.Japanese,
		language.Korean,
	}
	promptCodes   = []string{"en", "zh", "ja", "ko"}
	promptMatcher = language.NewMatcher(promptTags)
)

// IsCoreLanguage reports whether code is exactly one of the core codes.
func IsCoreLanguage(code string) bool {
	for _, l := range CoreLanguages {
		if l.Code == code {
			return true
		}
	}
	return false
}

// ResolveLanguage maps a requested language to a core prompt language.
// Region and script variants resolve to their base ("zh-CN" to "zh");
// anything unsupported resolves to DefaultLanguage without error.
func ResolveLanguage(code string) string {
	if IsCoreLanguage(code) {
		return code
	}
	tag, err := language.Parse(code)
	if err != nil {
		return DefaultLanguage
	}
	_, idx, conf := promptMatcher.Match(tag)
	if conf < language.High {
		return DefaultLanguage
	}
	return promptCodes[idx]
}

// NativeName returns the name a model should be told to answer in.
func NativeName(code string) string {
	for _, l := range ExtendedLanguages {
		if l.Code == code {
			return l.NativeName
		}
	}
	return "English"
}
