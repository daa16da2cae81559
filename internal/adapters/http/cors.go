package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"net/url"
	"strings"
)

// Tile viewers on other origins read tiles, poll jobs and start imports.
// Retry-After is exposed for busy basemaps and sync cooldowns, Location for
// created basemaps and jobs.
const (
	corsAllowMethods  = "GET, HEAD, POST, DELETE, OPTIONS"
	corsAllowHeaders  = "Accept, Content-Type, Authorization"
	corsExposeHeaders = "Retry-After, Location"
	corsMaxAge        = "86400"
)

// corsMiddleware sets CORS headers for allowed origins and answers
// preflight requests without reaching the handler.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.isOriginAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, pattern := range s.config.CORS.AllowedOrigins {
		if matchOrigin(origin, pattern) {
			return true
		}
	}
	return false
}

// matchOrigin matches an origin against an exact origin or a "*.domain"
// pattern. A wildcard never matches the bare domain.
func matchOrigin(origin, pattern string) bool {
	if origin == "" || pattern == "" {
		return false
	}
	if origin == pattern {
		return true
	}
	suffix, ok := strings.CutPrefix(pattern, "*")
	if !ok || !strings.HasPrefix(suffix, ".") {
		return false
	}
	host := extractHost(origin)
	return len(host) > len(suffix) && strings.HasSuffix(host, suffix)
}

// extractHost returns the host name of an origin without port or path.
func extractHost(origin string) string {
	if !strings.Contains(origin, "://") {
		origin = "//" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
