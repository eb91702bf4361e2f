package authn

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/aftersale/internal/logging"
)

// ContextKeyIdentity is the gin context key for the caller's identity.
const ContextKeyIdentity = "authIdentity"

// Middleware extracts and validates the bearer token, if present.
// Sets the identity in the gin context and tags the request logger.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			if id, err := v.Verify(token); err == nil {
				c.Set(ContextKeyIdentity, id)
				ctx := logging.WithUserID(c.Request.Context(), id.UserID)
				c.Request = c.Request.WithContext(ctx)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid identity.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromContext(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authentication required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose caller is not an admin.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Authentication required.",
			})
			return
		}
		if !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Admin role required.",
			})
			return
		}
		c.Next()
	}
}

// FromContext returns the authenticated identity set by Middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
