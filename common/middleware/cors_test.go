package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantAllowed string
		wantStatus  int
	}{
		{
			name:        "exact origin match",
			origins:     []string{"https://console.example.com"},
			method:      http.MethodGet,
			origin:      "https://console.example.com",
			wantAllowed: "https://console.example.com",
			wantStatus:  http.StatusTeapot,
		},
		{
			name:        "wildcard subdomain match",
			origins:     []string{"*.example.com"},
			method:      http.MethodGet,
			origin:      "https://ops.example.com",
			wantAllowed: "https://ops.example.com",
			wantStatus:  http.StatusTeapot,
		},
		{
			name:        "origin not allowed",
			origins:     []string{"https://console.example.com"},
			method:      http.MethodGet,
			origin:      "https://evil.test",
			wantAllowed: "",
			wantStatus:  http.StatusTeapot,
		},
		{
			name:        "star allows any origin",
			origins:     []string{"*"},
			method:      http.MethodGet,
			origin:      "http://localhost:8501",
			wantAllowed: "http://localhost:8501",
			wantStatus:  http.StatusTeapot,
		},
		{
			name:        "preflight short-circuits",
			origins:     []string{"*"},
			method:      http.MethodOptions,
			origin:      "http://localhost:8501",
			wantAllowed: "http://localhost:8501",
			wantStatus:  http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(DefaultCORSConfig(tt.origins))(next)

			req := httptest.NewRequest(tt.method, "/v1/exceptions", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantAllowed, rr.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "300", rr.Header().Get("Access-Control-Max-Age"))
			assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), RequestIDHeader)
		})
	}
}
