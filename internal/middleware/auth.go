// Package middleware holds the gin middleware shared by the HTTP and
// WebSocket routes.
package middleware

import (
	"net/http"

	"relaychat/backend/internal/auth"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the authenticated user ID.
const UserIDKey = "userID"

// RequireAuth resolves the caller from a bearer token, falling back to the
// token query parameter for browser WebSocket clients that cannot set
// headers.
func RequireAuth(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
			return
		}

		userID, err := v.UserID(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the user set by RequireAuth.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
