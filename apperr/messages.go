package apperr

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys in the catalog are the kind names.
var userMessages = map[language.Tag]map[Kind]string{
	language.English: {
		KindNetwork:    "Network connection failed, please check your connection and try again",
		KindAPI:        "API service temporarily unavailable, please try again later",
		KindValidation: "Input validation failed, please check your input.",
		KindStorage:    "Storage operation failed, please check storage permissions.",
		KindCache:      "Cache operation failed.",
		KindUnknown:    "An unknown error occurred.",
	},
	language.Chinese: {
		KindNetwork:    "网络连接失败，请检查网络设置后重试",
		KindAPI:        "API服务暂时不可用，请稍后重试",
		KindValidation: "输入验证失败，请检查您的输入。",
		KindStorage:    "存储操作失败，请检查存储权限。",
		KindCache:      "缓存操作失败。",
		KindUnknown:    "发生未知错误。",
	},
	language.Japanese: {
		KindNetwork:    "ネットワーク接続に失敗しました。接続を確認して再試行してください",
		KindAPI:        "APIサービスが一時的に利用できません。しばらくしてから再試行してください",
		KindValidation: "入力の検証に失敗しました。入力内容を確認してください。",
		KindStorage:    "ストレージ操作に失敗しました。権限を確認してください。",
		KindCache:      "キャッシュ操作に失敗しました。",
		KindUnknown:    "不明なエラーが発生しました。",
	},
	language.Korean: {
		KindNetwork:    "네트워크 연결에 실패했습니다. 연결을 확인하고 다시 시도하세요",
		KindAPI:        "API 서비스를 일시적으로 사용할 수 없습니다. 잠시 후 다시 시도하세요",
		KindValidation: "입력 검증에 실패했습니다. 입력을 확인하세요.",
		KindStorage:    "저장소 작업에 실패했습니다. 권한을 확인하세요.",
		KindCache:      "캐시 작업에 실패했습니다.",
		KindUnknown:    "알 수 없는 오류가 발생했습니다.",
	},
}

// English first: it is the match when nothing else fits.
var supportedTags = []language.Tag{
	language.English,
	language.Chinese,
	language.Japanese,
	language.Korean,
}

var (
	messageCatalog = buildCatalog()
	tagMatcher     = language.NewMatcher(supportedTags)
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range userMessages {
		for kind, msg := range msgs {
			// Only fails on malformed messages, which the table above does not contain.
			_ = b.SetString(tag, string(kind), msg)
		}
	}
	return b
}

func matchTag(lang string) language.Tag {
	tag, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	_, idx, conf := tagMatcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return supportedTags[idx]
}

// UserMessage returns the localized message for kind in lang, falling back
// to English for unknown or unsupported languages.
func UserMessage(kind Kind, lang string) string {
	if _, ok := userMessages[language.English][kind]; !ok {
		kind = KindUnknown
	}
	p := message.NewPrinter(matchTag(lang), message.Catalog(messageCatalog))
	return p.Sprintf(string(kind))
}

// Resolve fills the user-facing message for lang and returns e.
func (e *Error) Resolve(lang string) *Error {
	e.UserMessage = UserMessage(e.Kind, lang)
	return e
}
