package transport

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access to the event-stream binding.
// A single "*" entry in AllowOrigins, AllowMethods or AllowHeaders allows
// anything.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int
}

// DefaultCORSConfig permits every origin, method and header.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"*"},
		AllowHeaders:  []string{"*"},
		ExposeHeaders: []string{"Mcp-Session-Id"},
		MaxAge:        86400,
	}
}

func wildcard(list []string) bool {
	return len(list) == 1 && list[0] == "*"
}

// CORSHandler wraps next with CORS headers and answers preflight requests.
func CORSHandler(config CORSConfig, next http.Handler) http.Handler {
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = []string{"*"}
	}
	if len(config.AllowMethods) == 0 {
		config.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(config.AllowHeaders) == 0 {
		config.AllowHeaders = []string{"Content-Type", "Mcp-Session-Id"}
	}

	allowedOrigins := make(map[string]bool, len(config.AllowOrigins))
	for _, origin := range config.AllowOrigins {
		allowedOrigins[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		var allowOrigin string
		switch {
		case wildcard(config.AllowOrigins) && config.AllowCredentials && origin != "":
			allowOrigin = origin
		case wildcard(config.AllowOrigins):
			allowOrigin = "*"
		case origin != "" && allowedOrigins[origin]:
			allowOrigin = origin
		}
		if allowOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allowOrigin)
		if allowOrigin != "*" {
			h.Add("Vary", "Origin")
		}
		if config.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			methods := strings.Join(config.AllowMethods, ", ")
			if wildcard(config.AllowMethods) {
				methods = r.Header.Get("Access-Control-Request-Method")
			}
			headers := strings.Join(config.AllowHeaders, ", ")
			if wildcard(config.AllowHeaders) {
				headers = r.Header.Get("Access-Control-Request-Headers")
			}
			h.Set("Access-Control-Allow-Methods", methods)
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
			if config.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if len(config.ExposeHeaders) > 0 {
			h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposeHeaders, ", "))
		}
		next.ServeHTTP(w, r)
	})
}
