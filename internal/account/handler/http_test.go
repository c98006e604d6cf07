package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-auth/backend/internal/account/domain"
	"account-auth/backend/internal/account/repository"
	"account-auth/backend/internal/account/service"
	"account-auth/backend/internal/delivery"
	"account-auth/backend/internal/resetcode"
	"account-auth/backend/internal/security"
	"account-auth/backend/internal/server/middleware"
	"account-auth/backend/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router  *gin.Engine
	sink    *delivery.MemorySink
	metrics *telemetry.Metrics
}

func newRouter(svc *service.AuthService, sink delivery.Sink, metrics *telemetry.Metrics) *gin.Engine {
	h := NewAccountHandler(svc, sink, metrics, nil)
	r := gin.New()
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/forgot-password", h.ForgotPassword)
	r.POST("/reset-password", h.ResetPassword)
	r.GET("/me", middleware.BearerAuth(svc), h.Me)
	return r
}

func newService(t *testing.T, store repository.Store) *service.AuthService {
	t.Helper()
	hasher, err := security.NewHasher(security.AlgorithmBcrypt, 4, security.Argon2Params{Time: 1, Memory: 1024, Threads: 1})
	require.NoError(t, err)
	return service.NewAuthService(store, hasher, security.NewTestHMACTokenProvider(), resetcode.NewGenerator(), nil)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sink := delivery.NewMemorySink(0)
	metrics := telemetry.NewMetrics("test")
	return &testEnv{
		router:  newRouter(newService(t, repository.NewMemoryStore()), sink, metrics),
		sink:    sink,
		metrics: metrics,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), "body: %s", w.Body.String())
	return m
}

var alice = map[string]string{
	"email":        "a@x.com",
	"phone_number": "555-0100",
	"username":     "alice",
	"password":     "Secr3t!",
}

func TestScenario_AliceOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/register", alice)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "User registered successfully", decode(t, w)["message"])

	w = e.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "Secr3t!"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Login successful", body["message"])
	assert.NotEmpty(t, body["token"])
	assert.NotContains(t, w.Body.String(), "password")

	w = e.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/forgot-password", map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OTP sent to email", decode(t, w)["message"])
	code, ok := e.sink.Get(context.Background(), "a@x.com")
	require.True(t, ok, "code must reach the delivery sink")
	assert.NotContains(t, w.Body.String(), code, "code must never be in the response")

	w = e.do(t, http.MethodPost, "/reset-password", map[string]string{"email": "a@x.com", "otp": code, "new_password": "NewPass1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Password reset successful", decode(t, w)["message"])

	w = e.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "Secr3t!"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "NewPass1"})
	require.Equal(t, http.StatusOK, w.Code)

	series, err := testutil.GatherAndCount(e.metrics.Registry(), "test_workflow_total")
	require.NoError(t, err)
	assert.Equal(t, 5, series, "register, login ok/rejected, forgot and reset")
}

func TestRegister_Errors(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/register", alice).Code)

	tests := []struct {
		name   string
		body   any
		status int
		msg    string
	}{
		{"duplicate email", map[string]string{"email": "A@x.com", "phone_number": "555-0199", "username": "x", "password": "p"}, http.StatusBadRequest, "Email or phone number already exists"},
		{"duplicate phone", map[string]string{"email": "b@x.com", "phone_number": "555-0100", "username": "x", "password": "p"}, http.StatusBadRequest, "Email or phone number already exists"},
		{"missing fields", map[string]string{"email": "b@x.com"}, http.StatusBadRequest, "email, phone_number, username and password are required"},
		{"bad email", map[string]string{"email": "nope", "phone_number": "1", "username": "x", "password": "p"}, http.StatusBadRequest, "invalid email format"},
		{"malformed json", `{"email":`, http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/register", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.msg, decode(t, w)["error"])
		})
	}
}

func TestLogin_SameErrorForUnknownEmail(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/register", alice).Code)

	wrong := e.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "nope"})
	unknown := e.do(t, http.MethodPost, "/login", map[string]string{"email": "z@x.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	missing := e.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestForgotPassword_NotFound(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/forgot-password", map[string]string{"email": "ghost@x.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Email not found", decode(t, w)["error"])
}

func TestResetPassword_InvalidOTP(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/register", alice).Code)

	w := e.do(t, http.MethodPost, "/reset-password", map[string]string{"email": "a@x.com", "otp": "000000", "new_password": "NewPass1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid OTP", decode(t, w)["error"])

	w = e.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "Secr3t!"})
	assert.Equal(t, http.StatusOK, w.Code, "password unchanged")
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, domain.ResetDelivery) error {
	return errors.New("kafka: leader not available on 10.0.0.7:9092")
}
func (failingSink) Close() error { return nil }

func TestForgotPassword_DeliveryFailure(t *testing.T) {
	metrics := telemetry.NewMetrics("test")
	svc := newService(t, repository.NewMemoryStore())
	e := &testEnv{router: newRouter(svc, failingSink{}, metrics), metrics: metrics}
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/register", alice).Code)

	w := e.do(t, http.MethodPost, "/forgot-password", map[string]string{"email": "a@x.com"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

type downStore struct {
	*repository.MemoryStore
}

var errDriver = errors.New(`pq: password authentication failed for user "accounts"`)

func (downStore) Create(context.Context, *domain.Account) error { return errDriver }
func (downStore) GetByEmail(context.Context, string) (*domain.Account, error) {
	return nil, errDriver
}
func (downStore) WithinTx(context.Context, string, func(context.Context, repository.Repository) error) error {
	return errDriver
}

func TestTransientErrorsDoNotLeak(t *testing.T) {
	svc := newService(t, downStore{repository.NewMemoryStore()})
	e := &testEnv{router: newRouter(svc, delivery.NewMemorySink(0), telemetry.NewMetrics("test"))}

	requests := []struct {
		path string
		body map[string]string
	}{
		{"/register", alice},
		{"/login", map[string]string{"email": "a@x.com", "password": "p"}},
		{"/forgot-password", map[string]string{"email": "a@x.com"}},
		{"/reset-password", map[string]string{"email": "a@x.com", "otp": "123456", "new_password": "p"}},
	}
	for _, r := range requests {
		w := e.do(t, http.MethodPost, r.path, r.body)
		assert.Equal(t, http.StatusInternalServerError, w.Code, r.path)
		assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String(), r.path)
		assert.NotContains(t, w.Body.String(), "pq:", r.path)
	}
}

func TestMe(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/register", alice).Code)
	token := decode(t, e.do(t, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "Secr3t!"}))["token"].(string)

	w := e.do(t, http.MethodGet, "/me", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "555-0100", body["phone_number"])
	assert.NotContains(t, w.Body.String(), "hash")

	w = e.do(t, http.MethodGet, "/me", nil, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(t, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{fmt.Errorf("%w: email is required", service.ErrValidation), http.StatusBadRequest, "email is required"},
		{service.ErrValidation, http.StatusBadRequest, "validation failed"},
		{service.ErrConflict, http.StatusBadRequest, "Email or phone number already exists"},
		{service.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
		{service.ErrNotFound, http.StatusNotFound, "Email not found"},
		{service.ErrInvalidReset, http.StatusBadRequest, "Invalid OTP"},
		{fmt.Errorf("%w: %w", service.ErrUnauthenticated, security.ErrTokenExpired), http.StatusUnauthorized, "missing or invalid authorization"},
		{fmt.Errorf("%w: load account: %w", service.ErrTransient, errDriver), http.StatusInternalServerError, "internal error"},
		{errors.New("anything else"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		status, msg := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.msg, msg, tt.err.Error())
		assert.False(t, strings.Contains(msg, "pq:"))
	}
}

type codeMap map[string]string

func (m codeMap) Get(_ context.Context, email string) (string, bool) {
	c, ok := m[email]
	return c, ok
}

func TestDevResetCode(t *testing.T) {
	r := gin.New()
	r.GET("/dev/reset-code", DevResetCode(codeMap{"a@x.com": "042917"}))

	get := func(q string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dev/reset-code"+q, nil))
		return w
	}

	w := get("?email=A@x.com")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"otp":"042917","note":"DEV MODE ONLY"}`, w.Body.String())
	assert.Equal(t, http.StatusNotFound, get("?email=b@x.com").Code)
	assert.Equal(t, http.StatusBadRequest, get("").Code)
}
