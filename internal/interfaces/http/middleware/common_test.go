package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serveWith(mw gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(mw)
	router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	req := httptest.NewRequest(method, "/test", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	ops := CORSConfig{
		AllowOrigins:     []string{"http://ops.example.com"},
		AllowCredentials: true,
	}

	tests := []struct {
		name       string
		cfg        CORSConfig
		method     string
		origin     string
		wantStatus int
		wantOrigin string
		wantCreds  string
	}{
		{
			name:       "no origins configured",
			method:     http.MethodGet,
			origin:     "http://ops.example.com",
			wantStatus: http.StatusOK,
		},
		{
			name:       "service caller without origin",
			cfg:        ops,
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "allowed origin",
			cfg:        ops,
			method:     http.MethodGet,
			origin:     "http://ops.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "http://ops.example.com",
			wantCreds:  "true",
		},
		{
			name:       "unknown origin",
			cfg:        ops,
			method:     http.MethodGet,
			origin:     "http://evil.example.com",
			wantStatus: http.StatusOK,
		},
		{
			name:       "preflight from allowed origin",
			cfg:        ops,
			method:     http.MethodOptions,
			origin:     "http://ops.example.com",
			wantStatus: http.StatusNoContent,
			wantOrigin: "http://ops.example.com",
			wantCreds:  "true",
		},
		{
			name:       "preflight from unknown origin",
			cfg:        ops,
			method:     http.MethodOptions,
			origin:     "http://evil.example.com",
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "wildcard drops credentials",
			cfg:        CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true},
			method:     http.MethodGet,
			origin:     "http://any.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveWith(CORS(tt.cfg), tt.method, tt.origin)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))
			if tt.wantOrigin == "" {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Headers"))
			}
		})
	}
}

func TestCORS_PreflightHeaders(t *testing.T) {
	w := serveWith(CORS(CORSConfig{
		AllowOrigins: []string{"http://ops.example.com"},
		MaxAge:       time.Hour,
	}), http.MethodOptions, "http://ops.example.com")

	assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), ActorHeader)
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
}

func TestAPIHeaders(t *testing.T) {
	w := serveWith(APIHeaders(APIHeadersConfig{}), http.MethodGet, "")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = serveWith(APIHeaders(APIHeadersConfig{HSTSMaxAge: 24 * time.Hour}), http.MethodGet, "")
	assert.Equal(t, "max-age=86400; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}
