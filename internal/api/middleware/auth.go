package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenVerifier authenticates bearer tokens on API requests.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

const userIDKey = "userID"

// Auth returns a middleware that requires a valid bearer token and stores
// the authenticated user ID in the Gin context.
// Parameters:
//   - verifier: token authenticator.
// Returns:
//   - gin.HandlerFunc: middleware handler.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing bearer token",
			})
			return
		}

		userID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID extracts the authenticated user ID set by Auth.
// Parameters:
//   - c: Gin request context.
// Returns:
//   - string: user ID, empty when unauthenticated.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
