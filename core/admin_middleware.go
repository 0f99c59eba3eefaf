package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminOnly ensures the session carries the admin role. It must run after RequireSession.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil || claims.Role != RoleAdmin {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "admin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}
