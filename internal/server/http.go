// Package server assembles the HTTP router and the gRPC health listener.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"account-auth/backend/internal/account/handler"
	"account-auth/backend/internal/health"
	"account-auth/backend/internal/server/middleware"
	"account-auth/backend/internal/telemetry"
)

// RouterDeps holds everything NewRouter wires into routes.
type RouterDeps struct {
	ServiceName   string
	Accounts      *handler.AccountHandler
	Authenticator middleware.Authenticator
	Health        *health.Checker
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
	// DevCodes enables GET /dev/reset-code when non-nil.
	DevCodes handler.CodeLookup
}

// NewRouter returns the gin engine serving the account API.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(
		otelgin.Middleware(deps.ServiceName),
		middleware.RequestLogger(deps.Logger),
		middleware.Metrics(deps.Metrics),
		middleware.Recovery(deps.Logger),
	)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	r.GET("/healthz", deps.Health.Live)
	r.GET("/readyz", deps.Health.Readiness)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	r.POST("/register", deps.Accounts.Register)
	r.POST("/login", deps.Accounts.Login)
	r.POST("/forgot-password", deps.Accounts.ForgotPassword)
	r.POST("/reset-password", deps.Accounts.ResetPassword)
	r.GET("/me", middleware.BearerAuth(deps.Authenticator), deps.Accounts.Me)

	if deps.DevCodes != nil {
		deps.Logger.Warn("dev reset-code endpoint enabled; codes are readable over HTTP")
		r.GET("/dev/reset-code", handler.DevResetCode(deps.DevCodes))
	}
	return r
}
