// Package i18n はコンソールの表示言語の解決とCookieでの保持を提供します。
package i18n

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	// LangParam is the query parameter used to select a language.
	LangParam = "lang"
	// CookieName stores the operator's language preference.
	CookieName = "locale"

	// Chinese is the default console locale.
	Chinese = "zh"
	// English is the alternative console locale.
	English = "en"
)

var (
	supported = []language.Tag{language.Chinese, language.English}
	codes     = []string{Chinese, English}
	matcher   = language.NewMatcher(supported)
)

// Supported returns the supported locale codes with the default first.
func Supported() []string {
	out := make([]string, len(codes))
	copy(out, codes)
	return out
}

// Default returns the default locale code.
func Default() string {
	return Chinese
}

// Parse はBCP 47形式の値を対応ロケールに変換します。
// zh-CN や en-US のような地域付きタグも基底言語で受け付けます。
func Parse(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	tag, err := language.Parse(value)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	for i, t := range supported {
		if b, _ := t.Base(); b == base {
			return codes[i], true
		}
	}
	return "", false
}

// Normalize は未対応の値をデフォルトロケールに丸めます。
func Normalize(value string) string {
	if code, ok := Parse(value); ok {
		return code
	}
	return Default()
}

// Resolve はクエリ、Cookie、Accept-Language、デフォルトの順でロケールを決定します。
func Resolve(r *http.Request) string {
	if r == nil {
		return Default()
	}
	if code, ok := Parse(r.URL.Query().Get(LangParam)); ok {
		return code
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		if code, ok := Parse(cookie.Value); ok {
			return code
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, idx, conf := matcher.Match(tags...)
			if conf != language.No {
				return codes[idx]
			}
		}
	}
	return Default()
}

// SetCookie persists the selected locale for one year.
func SetCookie(w http.ResponseWriter, code string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    Normalize(code),
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}
