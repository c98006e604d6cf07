package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"account-auth/backend/internal/account/domain"
)

// CodeLookup returns the latest code delivered for an email.
type CodeLookup interface {
	Get(ctx context.Context, email string) (string, bool)
}

// DevResetCode serves GET /dev/reset-code?email=. It is registered only when
// dev reset codes are enabled outside production.
func DevResetCode(codes CodeLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := domain.NormalizeEmail(c.Query("email"))
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
			return
		}
		code, ok := codes.Get(c.Request.Context(), email)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no reset code for email"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"otp": code, "note": "DEV MODE ONLY"})
	}
}
