package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"airdrop_manager/internal/config"
)

func corsRequest(t *testing.T, cfg config.CorsConfig, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	h := corsMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/api/v1/tasks", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCorsUsesConfiguredMethodsAndHeaders(t *testing.T) {
	cfg := config.CorsConfig{
		AllowOrigins: []string{"http://Dash.Local"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAgeMs:     30000,
	}
	rec := corsRequest(t, cfg, http.MethodOptions, "http://dash.local")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, X-Request-Id", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "30", rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCorsDefaults(t *testing.T) {
	rec := corsRequest(t, config.CorsConfig{AllowOrigins: []string{"*"}}, http.MethodGet, "http://any.example")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCorsWildcardWithCredentialsEchoesOrigin(t *testing.T) {
	cfg := config.CorsConfig{AllowOrigins: []string{"*"}, AllowCredentials: true}
	rec := corsRequest(t, cfg, http.MethodGet, "http://any.example")

	assert.Equal(t, "http://any.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCorsRejectsUnknownOriginPreflight(t *testing.T) {
	cfg := config.CorsConfig{AllowOrigins: []string{"http://dash.local"}}

	rec := corsRequest(t, cfg, http.MethodOptions, "http://evil.example")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// same-origin and non-browser callers send no Origin
	rec = corsRequest(t, cfg, http.MethodGet, "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
