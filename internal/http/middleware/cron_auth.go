package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CronToken guards scheduler trigger endpoints with a shared secret. The
// token is accepted either as a Bearer token or in the X-Cron-Token header,
// so both generic cron runners and platform schedulers can call in.
func CronToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "cron endpoint disabled", http.StatusUnauthorized)
				return
			}
			got := r.Header.Get("X-Cron-Token")
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "invalid cron token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
