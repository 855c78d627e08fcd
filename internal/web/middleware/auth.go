package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

// Operator resolves who is making the request and stores it with
// core.ContextWithOperator. The key comes from the X-API-Key header or
// the basic-auth password.
//
// When RequireAPIKey is false, requests without a valid key act as
// DefaultOperator. When it is true, a missing key is 401 and an unknown
// key is 403.
func Operator(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	operators := cfg.Operators()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestKey(r)

			operator := ""
			if key != "" {
				operator = lookupOperator(key, operators)
			}

			switch {
			case operator != "":
			case !cfg.RequireAPIKey:
				operator = cfg.DefaultOperator
			case key == "":
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", `Basic realm="csvimport"`)
				http.Error(w, `{"error":"missing API key","code":"AUTH_MISSING_KEY"}`, http.StatusUnauthorized)
				return
			default:
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, `{"error":"invalid API key","code":"AUTH_INVALID_KEY"}`, http.StatusForbidden)
				return
			}

			ctx := core.ContextWithOperator(r.Context(), operator)
			ctx = core.ContextWithClient(ctx, ClientIP(r), r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if _, password, ok := r.BasicAuth(); ok {
		return password
	}
	return ""
}

// lookupOperator finds the operator owning key. Every configured key is
// compared in constant time, whichever one matches.
func lookupOperator(key string, operators map[string]string) string {
	found := ""
	for validKey, name := range operators {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			found = name
		}
	}
	return found
}
