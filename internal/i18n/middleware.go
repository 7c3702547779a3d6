package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

var supported = language.NewMatcher([]language.Tag{language.English, language.Russian})

// Middleware puts a localizer into every request context. The request's
// Accept-Language header wins when it names a supported language; otherwise
// lang is used.
func Middleware(lang string) func(http.Handler) http.Handler {
	fallback := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := fallback
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				if tag, ok := negotiate(accept); ok {
					loc = NewLocalizer(tag)
				}
			}
			ctx := WithLocalizer(r.Context(), loc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func negotiate(accept string) (string, bool) {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return "", false
	}
	_, idx, conf := supported.Match(tags...)
	if conf == language.No {
		return "", false
	}
	if idx == 1 {
		return "ru", true
	}
	return "en", true
}
