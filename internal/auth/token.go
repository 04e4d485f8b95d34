// Package auth guards the internal API with a shared token check.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/paperviz/pdf-extract-service/pkg/types"
)

// HeaderName is the request header carrying the internal API token.
const HeaderName = "X-Internal-Token"

// Middleware returns a gin middleware that rejects requests whose
// X-Internal-Token header does not match the configured key. An empty key
// disables the check entirely; that is only meant for local development.
func Middleware(apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		logrus.Warn("INTERNAL_API_KEY not configured, internal API authentication is disabled")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		token := c.GetHeader(HeaderName)
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			logrus.WithField("path", c.Request.URL.Path).
				Warn("Rejected request with missing or invalid internal token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{
				Error:   "unauthorized",
				Message: "missing or invalid internal credentials",
				Code:    401,
			})
			return
		}
		c.Next()
	}
}
