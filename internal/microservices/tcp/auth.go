package tcp

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for frames sent before a successful login.
var ErrUnauthenticated = errors.New("not authenticated")

// Identity is what a login token proves about its holder.
type Identity struct {
	UserID      string
	Username    string
	Permissions []string
}

type TCPAuthService struct {
	jwtSecret string
}

func NewTCPAuthService(jwtSecret string) *TCPAuthService {
	return &TCPAuthService{jwtSecret: jwtSecret}
}

func (a *TCPAuthService) ValidateToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(a.jwtSecret), nil
	})

	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return Identity{}, errors.New("user_id claim is not a string")
	}

	username, ok := claims["username"].(string)
	if !ok || username == "" {
		return Identity{}, errors.New("username claim is not a string")
	}

	// optional; JSON arrays decode as []any
	var permissions []string
	if raw, ok := claims["permissions"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				permissions = append(permissions, s)
			}
		}
	}

	return Identity{UserID: userID, Username: username, Permissions: permissions}, nil
}
