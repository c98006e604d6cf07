package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuth struct {
	tokens map[string]string
}

func (s stubAuth) Authenticate(_ context.Context, token string) (string, error) {
	if id, ok := s.tokens[token]; ok {
		return id, nil
	}
	return "", errors.New("token is malformed")
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"BEARER   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractBearer(tt.header), "header %q", tt.header)
	}
}

func TestBearerAuth(t *testing.T) {
	r := gin.New()
	r.GET("/me", BearerAuth(stubAuth{tokens: map[string]string{"good": "a@x.com"}}), func(c *gin.Context) {
		id, ok := Identity(c.Request.Context())
		require.True(t, ok)
		c.String(http.StatusOK, id)
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer good", http.StatusOK, "a@x.com"},
		{"missing", "", http.StatusUnauthorized, `{"error":"missing or invalid authorization"}`},
		{"wrong scheme", "Token good", http.StatusUnauthorized, `{"error":"missing or invalid authorization"}`},
		{"rejected", "Bearer bad", http.StatusUnauthorized, `{"error":"missing or invalid authorization"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.body, w.Body.String())
		})
	}
}

func TestIdentity_Unset(t *testing.T) {
	_, ok := Identity(context.Background())
	assert.False(t, ok)
	_, ok = Identity(WithIdentity(context.Background(), ""))
	assert.False(t, ok)
}

type observation struct {
	method, route string
	status        int
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recordingObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{method, route, status})
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	obs := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(obs))
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/users/1", "/users/2", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Len(t, obs.obs, 3)
	assert.Equal(t, observation{"GET", "/users/:id", http.StatusNoContent}, obs.obs[0])
	assert.Equal(t, observation{"GET", "/users/:id", http.StatusNoContent}, obs.obs[1])
	assert.Equal(t, observation{"GET", "unmatched", http.StatusNotFound}, obs.obs[2])
}

func TestRequestLogger_LevelsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := gin.New()
	r.Use(RequestLogger(logger))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(errors.New("dial tcp: connection refused"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Empty(t, buf.String(), "2xx logs at debug")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "connection refused")
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(Recovery(logger))
	r.GET("/boom", func(c *gin.Context) { panic("nil map write") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
	assert.Contains(t, buf.String(), "nil map write")
}
