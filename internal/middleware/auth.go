package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sessiontrack/internal/security"
)

const ClaimsKey = "admin_claims"

// Auth accepts a bearer admin token signed with secret.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := security.ParseAdminToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// Claims returns the admin claims Auth stored on the request.
func Claims(c *gin.Context) (*security.AdminClaims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*security.AdminClaims)
	return claims, ok && claims != nil
}
