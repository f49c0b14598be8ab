package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"proxysync/internal/microservices/http-api/service"
)

// TokenValidator checks an operator bearer token.
type TokenValidator interface {
	ValidateToken(tokenString string) (*service.Claims, error)
}

// AuthMiddleware is a Gin middleware for JWT authentication of API requests
// It checks for the presence and validity of a JWT token in the Authorization header
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get token from header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		// Extract token (format: "Bearer <token>")
		parts := strings.Split(authHeader, " ") // split by space , 0 is Bearer, 1 is token
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		// Validate token
		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, service.ErrExpiredToken) {
				msg = "token has expired"
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
			c.Abort()
			return
		}

		// Set operator info in context for handlers to use
		c.Set("claims", claims)
		c.Set("operator", claims.Subject)
		c.Set("scopes", claims.Scopes)

		c.Next()
	}
}

// RequireScopes middleware checks if token has required scopes
func RequireScopes(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get scopes from context (set by AuthMiddleware)
		scopesInterface, exists := c.Get("scopes")
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{"error": "Scopes not found in token"})
			c.Abort()
			return
		}

		tokenScopes, ok := scopesInterface.([]string)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid scope format"})
			c.Abort()
			return
		}

		// Check if token has all required scopes
		if !hasAllScopes(tokenScopes, requiredScopes) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":    "Insufficient scopes",
				"required": requiredScopes,
				"granted":  tokenScopes,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// hasAllScopes checks if token has all required scopes
func hasAllScopes(tokenScopes, requiredScopes []string) bool {
	// Create a map for efficient lookup rather than nested loops
	scopeMap := make(map[string]bool)
	for _, scope := range tokenScopes {
		scopeMap[scope] = true
	}

	// Check for wildcard admin scope
	if scopeMap["*"] || scopeMap["cluster:*"] {
		return true
	}

	for _, required := range requiredScopes {
		if !scopeMap[required] && !matchesWildcardScope(tokenScopes, required) {
			return false
		}
	}

	return true
}

// matchesWildcardScope handles wildcard scope matching (e.g. "cluster:*")
func matchesWildcardScope(tokenScopes []string, required string) bool {
	for _, scope := range tokenScopes {
		if len(scope) > 0 && scope[len(scope)-1] == '*' {
			prefix := scope[:len(scope)-1]
			if strings.HasPrefix(required, prefix) {
				return true
			}
		}
	}
	return false
}
