package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenClaimsContextKey is the gin context key holding validated claims.
const TokenClaimsContextKey = "token_claims"

// TokenMiddleware authenticates requests carrying a bearer PASETO token.
type TokenMiddleware struct {
	tokenManager *TokenManager
}

// NewTokenMiddleware creates a new TokenMiddleware
func NewTokenMiddleware(tokenManager *TokenManager) *TokenMiddleware {
	return &TokenMiddleware{tokenManager: tokenManager}
}

// Handler rejects requests without a valid "Authorization: Bearer" token.
func (m *TokenMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header format"})
			return
		}

		claims, err := m.tokenManager.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(TokenClaimsContextKey, claims)
		c.Next()
	}
}

// GetTokenClaims returns the claims stored by Handler.
func GetTokenClaims(c *gin.Context) (*TokenClaims, bool) {
	v, ok := c.Get(TokenClaimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*TokenClaims)
	return claims, ok
}
