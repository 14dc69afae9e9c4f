package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"photoflow/internal/security"
)

const identityKey = "identity"

// Auth authenticates before any file is touched. A missing or invalid
// identity aborts the whole request; there is no per-item auth.
func Auth(verifier security.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		identity, err := verifier.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// IdentityFrom returns the authenticated identity set by Auth.
func IdentityFrom(c *gin.Context) (*security.Identity, bool) {
	val, exists := c.Get(identityKey)
	if !exists {
		return nil, false
	}
	identity, ok := val.(*security.Identity)
	return identity, ok
}
