package middleware

import (
	"net/http"
	"strings"
)

// CORSMiddleware grants cross-origin access to the configured origins only.
type CORSMiddleware struct {
	origins  map[string]struct{}
	allowAll bool
}

// NewCORSMiddleware builds the middleware. A "*" entry, or an empty list,
// allows every origin.
func NewCORSMiddleware(allowed []string) *CORSMiddleware {
	m := &CORSMiddleware{
		origins:  make(map[string]struct{}, len(allowed)),
		allowAll: len(allowed) == 0,
	}
	for _, origin := range allowed {
		if origin == "*" {
			m.allowAll = true
			continue
		}
		m.origins[strings.TrimSuffix(origin, "/")] = struct{}{}
	}
	return m
}

// Handler returns the CORS middleware handler. Preflight requests are
// answered here and never reach the API.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && m.allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *CORSMiddleware) allowed(origin string) bool {
	if m.allowAll {
		return true
	}
	_, ok := m.origins[strings.TrimSuffix(origin, "/")]
	return ok
}
