// Package handler exposes the account workflows over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"account-auth/backend/internal/account/domain"
	"account-auth/backend/internal/account/service"
	"account-auth/backend/internal/delivery"
	"account-auth/backend/internal/server/middleware"
	"account-auth/backend/internal/telemetry"
)

// Response messages.
const (
	msgRegistered     = "User registered successfully"
	msgLoggedIn       = "Login successful"
	msgResetSent      = "OTP sent to email"
	msgResetDone      = "Password reset successful"
	msgConflict       = "Email or phone number already exists"
	msgBadCredentials = "Invalid email or password"
	msgEmailNotFound  = "Email not found"
	msgInvalidOTP     = "Invalid OTP"
	msgUnauthorized   = "missing or invalid authorization"
	msgInvalidBody    = "invalid request body"
	msgInternal       = "internal error"
)

// AccountService is the workflow surface the handler drives.
type AccountService interface {
	Register(ctx context.Context, email, phone, username, password string) (*service.RegisterResult, error)
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) (*domain.ResetDelivery, error)
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	Profile(ctx context.Context, email string) (*domain.Profile, error)
}

// WorkflowRecorder counts workflow outcomes and reset code hand-offs.
type WorkflowRecorder interface {
	RecordWorkflow(operation, outcome string)
	RecordDelivery(err error)
}

// AccountHandler handles the account HTTP routes.
type AccountHandler struct {
	svc     AccountService
	sink    delivery.Sink
	metrics WorkflowRecorder
	logger  *slog.Logger
}

// NewAccountHandler returns an AccountHandler. Issued reset codes go to sink.
func NewAccountHandler(svc AccountService, sink delivery.Sink, metrics WorkflowRecorder, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{svc: svc, sink: sink, metrics: metrics, logger: logger}
}

// RegisterRequest is the POST /register body.
type RegisterRequest struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// LoginRequest is the POST /login body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ForgotPasswordRequest is the POST /forgot-password body.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the POST /reset-password body.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

// LoginResponse is the POST /login success body.
type LoginResponse struct {
	Message   string         `json:"message"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      domain.Profile `json:"user"`
}

// Register handles POST /register.
func (h *AccountHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !h.bind(c, "register", &req) {
		return
	}
	res, err := h.svc.Register(c.Request.Context(), req.Email, req.PhoneNumber, req.Username, req.Password)
	if err != nil {
		h.fail(c, "register", err)
		return
	}
	h.metrics.RecordWorkflow("register", telemetry.OutcomeSuccess)
	c.JSON(http.StatusCreated, gin.H{"message": msgRegistered, "id": res.ID})
}

// Login handles POST /login.
func (h *AccountHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !h.bind(c, "login", &req) {
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, "login", err)
		return
	}
	h.metrics.RecordWorkflow("login", telemetry.OutcomeSuccess)
	c.JSON(http.StatusOK, LoginResponse{
		Message:   msgLoggedIn,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      res.Profile,
	})
}

// ForgotPassword handles POST /forgot-password. The code goes to the
// delivery sink; the response never contains it.
func (h *AccountHandler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if !h.bind(c, "forgot_password", &req) {
		return
	}
	ctx := c.Request.Context()
	d, err := h.svc.ForgotPassword(ctx, req.Email)
	if err != nil {
		h.fail(c, "forgot_password", err)
		return
	}
	err = h.sink.Deliver(ctx, *d)
	h.metrics.RecordDelivery(err)
	if err != nil {
		h.fail(c, "forgot_password", err)
		return
	}
	h.metrics.RecordWorkflow("forgot_password", telemetry.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"message": msgResetSent})
}

// ResetPassword handles POST /reset-password.
func (h *AccountHandler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if !h.bind(c, "reset_password", &req) {
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		h.fail(c, "reset_password", err)
		return
	}
	h.metrics.RecordWorkflow("reset_password", telemetry.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"message": msgResetDone})
}

// Me handles GET /me for the identity set by middleware.BearerAuth.
func (h *AccountHandler) Me(c *gin.Context) {
	email, ok := middleware.Identity(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
		return
	}
	p, err := h.svc.Profile(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			// The token outlived its account.
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
			return
		}
		h.fail(c, "profile", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *AccountHandler) bind(c *gin.Context, op string, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.metrics.RecordWorkflow(op, telemetry.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return false
	}
	return true
}

// fail writes the error body for err. Unexpected errors are attached to the
// gin context for the request logger and answered with a generic message.
func (h *AccountHandler) fail(c *gin.Context, op string, err error) {
	status, msg := statusFor(err)
	outcome := telemetry.OutcomeRejected
	if status >= http.StatusInternalServerError {
		outcome = telemetry.OutcomeError
		_ = c.Error(err)
		h.logger.ErrorContext(c.Request.Context(), "account workflow failed", "operation", op, "error", err)
	}
	h.metrics.RecordWorkflow(op, outcome)
	c.JSON(status, gin.H{"error": msg})
}

// statusFor maps service errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, validationMessage(err)
	case errors.Is(err, service.ErrConflict):
		return http.StatusBadRequest, msgConflict
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgBadCredentials
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, msgEmailNotFound
	case errors.Is(err, service.ErrInvalidReset):
		return http.StatusBadRequest, msgInvalidOTP
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, msgUnauthorized
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// validationMessage strips the sentinel prefix from a validation error.
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": ")
	if msg == "" {
		return service.ErrValidation.Error()
	}
	return msg
}
