package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy_Allowed(t *testing.T) {
	policy := NewOriginPolicy([]string{"http://localhost:3000/"})

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin", "", true},
		{"same host", "http://127.0.0.1:8080", true},
		{"listed origin", "http://LOCALHOST:3000", true},
		{"foreign site", "https://evil.example", false},
		{"same host other port", "http://127.0.0.1:9999", false},
		{"opaque origin", "null", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8080/api/v1/locations", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.Allowed(r))
		})
	}
}

func TestOriginPolicy_CORS(t *testing.T) {
	policy := NewOriginPolicy(nil)
	called := 0
	h := policy.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8080/api/v1/locations", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 0, called)

	r = httptest.NewRequest(http.MethodPost, "http://127.0.0.1:8080/api/v1/pin/keys", nil)
	r.Header.Set("Origin", "http://127.0.0.1:8080")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://127.0.0.1:8080", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8080/api/v1/auth/state", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 2, called)
}
