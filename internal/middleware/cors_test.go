package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOriginsAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed Origins
		origin  string
		want    bool
	}{
		{"no list", nil, "https://evil.example", true},
		{"no header", Origins{"https://app.example"}, "", true},
		{"listed", Origins{"https://app.example"}, "https://APP.example", true},
		{"unlisted", Origins{"https://app.example"}, "https://evil.example", false},
		{"wildcard", Origins{"*"}, "https://any.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.allowed.Allowed(tt.origin); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestEnableCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := EnableCORS(Origins{"https://app.example"}, next)

	req := httptest.NewRequest(http.MethodOptions, "/api/routes/r1/state", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("allow-origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want passthrough", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin for unlisted origin = %q", got)
	}
}
