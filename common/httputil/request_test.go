package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18"}, "10.0.0.1:1234", "203.0.113.195"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:1234", "198.51.100.7"},
		{"remote addr", nil, "10.0.0.1:1234", "10.0.0.1:1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		query string
		want  Page
	}{
		{"", Page{Limit: 50, Offset: 0}},
		{"limit=10&offset=20", Page{Limit: 10, Offset: 20}},
		{"limit=9999", Page{Limit: 500, Offset: 0}},
		{"limit=0&offset=-4", Page{Limit: 50, Offset: 0}},
		{"limit=abc", Page{Limit: 50, Offset: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/exceptions?"+tt.query, nil)
			assert.Equal(t, tt.want, ParsePage(req, 50, 500))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Actor string `json:"actor"`
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"actor":"ops"}`))
		var b body
		require.NoError(t, DecodeJSON(req, &b, 0))
		assert.Equal(t, "ops", b.Actor)
	})

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var b body
		assert.EqualError(t, DecodeJSON(req, &b, 0), "request body is empty")
	})

	t.Run("malformed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"actor":`))
		var b body
		assert.ErrorContains(t, DecodeJSON(req, &b, 0), "invalid JSON body")
	})

	t.Run("trailing data", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"actor":"a"} {"actor":"b"}`))
		var b body
		assert.Error(t, DecodeJSON(req, &b, 0))
	})

	t.Run("too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"actor":"`+strings.Repeat("x", 64)+`"}`))
		var b body
		assert.Error(t, DecodeJSON(req, &b, 16))
	})
}
