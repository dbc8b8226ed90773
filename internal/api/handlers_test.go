package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleHealthNoAuth(t *testing.T) {
	s := NewServer("")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.HandleRequest(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHandleRequestAuthRequired(t *testing.T) {
	s := NewServer("secret")

	tests := []struct {
		name           string
		path           string
		headers        map[string]string
		expectedStatus int
	}{
		{"no key rejected", "/health", nil, http.StatusUnauthorized},
		{"wrong bearer rejected", "/version", map[string]string{"Authorization": "Bearer wrong"}, http.StatusUnauthorized},
		{"correct header accepted", "/health", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"correct bearer accepted", "/version", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"metrics bypasses auth", "/metrics", nil, http.StatusOK},
		{"unknown path after auth is 404", "/nope", map[string]string{"X-API-Key": "secret"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			s.HandleRequest(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestAuthenticateQueryParam(t *testing.T) {
	s := NewServer("secret")

	req := httptest.NewRequest(http.MethodGet, "/health?apiKey=secret", nil)
	assert.True(t, s.authenticate(req))

	req = httptest.NewRequest(http.MethodGet, "/health?apiKey=wrong", nil)
	assert.False(t, s.authenticate(req))
}

func TestAuthenticateOpenWhenNoKeyConfigured(t *testing.T) {
	s := NewServer("")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.True(t, s.authenticate(req))
}
