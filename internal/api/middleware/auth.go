package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agri-trace-api-server/internal/auth"
	"agri-trace-api-server/internal/models"
)

// Context keys set by Authenticate.
const (
	ContextRole    = "user_role"
	ContextSubject = "user_subject"
)

// Authenticate validates the Bearer token and stores its claims in the
// context. With auth disabled every request passes untouched.
func Authenticate(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !issuer.Enabled() {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authorization header is required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid token format"})
			return
		}

		claims, err := issuer.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}

		c.Set(ContextRole, claims.Role)
		c.Set(ContextSubject, claims.Subject)
		c.Next()
	}
}

// Authorize rejects callers whose role is not in allowedRoles. Requests that
// were never authenticated (auth disabled) pass.
func Authorize(allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := RoleFrom(c)
		if !ok {
			c.Next()
			return
		}
		for _, allowed := range allowedRoles {
			if allowed == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "You do not have permission to access this resource"})
	}
}

// RoleFrom returns the authenticated role, if any.
func RoleFrom(c *gin.Context) (models.Role, bool) {
	v, exists := c.Get(ContextRole)
	if !exists {
		return "", false
	}
	role, ok := v.(models.Role)
	return role, ok
}
