package middleware

import (
	"net/http"
	"strings"
)

type CORSConfig struct {
	AllowedOrigin  string
	AllowedHeaders []string
}

// CORS answers preflight requests and stamps the allow headers on every
// response.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origin := cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", RequestIDHeader}
	}
	allowHeaders := strings.Join(headers, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
