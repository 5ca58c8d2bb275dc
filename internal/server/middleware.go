package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"otp-identity/backend/internal/audit"
	"otp-identity/backend/internal/session"
)

const bearerPrefix = "Bearer "

// AccessValidator resolves an access token to its user id.
type AccessValidator interface {
	ValidateAccess(token string) (string, error)
}

// requireAuth validates the Bearer access token and stores the user id in the request context.
// When optional is true a missing or invalid token lets the request through unauthenticated.
func requireAuth(tokens AccessValidator, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			if optional {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		userID, err := tokens.ValidateAccess(token)
		if err != nil {
			if optional {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
			return
		}
		c.Request = c.Request.WithContext(session.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// extractBearer returns the token of a "Bearer <token>" header value, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// clientIP records the caller address for audit entries.
func clientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// corsMiddleware allows the configured frontend origin, or any origin when none is set.
func corsMiddleware(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if origin != "*" {
			c.Writer.Header().Set("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
