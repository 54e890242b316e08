package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/common/errors"
)

// RequireAdmin guards operator endpoints with a static bearer token. An empty
// token disables the endpoints entirely.
func RequireAdmin(token string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			Abort(c, errors.New(errors.ErrCodeForbidden, "Admin endpoints disabled"), log)
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			Abort(c, errors.NewUnauthorizedError("invalid admin token"), log)
			return
		}
		c.Next()
	}
}
