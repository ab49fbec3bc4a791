package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"palmcontroller/internal/middleware/auth"
)

// TokenValidator checks a bearer token and returns its claims.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AuthMiddleware is a Gin middleware for JWT authentication of API requests.
// It checks for the presence and validity of a JWT token in the Authorization header
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		// format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := tokens.Validate(parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "token has expired"
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
			c.Abort()
			return
		}

		// claims for the handlers
		c.Set("claims", claims)
		c.Set("clientID", claims.ClientID)
		c.Set("scope", claims.Scope)

		c.Next()
	}
}

// RequireScope rejects tokens that were not issued for scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted, ok := c.Get("scope")
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "scope not found in token"})
			c.Abort()
			return
		}
		if granted != scope {
			c.JSON(http.StatusForbidden, gin.H{
				"error":    "insufficient scope",
				"required": scope,
				"granted":  granted,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
