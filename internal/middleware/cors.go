package middleware

import (
	"net/http"
	"strings"
)

// Origins is the allow-list for browser origins. Empty allows any origin.
type Origins []string

// Allowed reports whether origin may talk to the server. Requests without an
// Origin header (non-browser clients) are always allowed.
func (o Origins) Allowed(origin string) bool {
	if origin == "" || len(o) == 0 {
		return true
	}
	for _, a := range o {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// CheckOrigin adapts the allow-list for websocket.Upgrader.
func (o Origins) CheckOrigin(r *http.Request) bool {
	return o.Allowed(r.Header.Get("Origin"))
}

func EnableCORS(allowed Origins, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && allowed.Allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
