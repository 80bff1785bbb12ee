package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the decoded bearer credential pinned to a connection. It is
// authoritative for every authorization check on that connection; client
// payloads are never trusted for identity.
type Identity struct {
	UserID uint
	Role   string
	Email  string
}

// TokenVerifier verifies platform-issued bearer tokens. The chat layer only
// verifies tokens, it never issues them.
type TokenVerifier interface {
	Verify(tokenString string) (Identity, error)
}

type jwtVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a HMAC JWT verifier.
func NewJWTVerifier(secret string) TokenVerifier {
	return &jwtVerifier{secret: []byte(secret)}
}

func (v *jwtVerifier) Verify(tokenString string) (Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Identity{}, fmt.Errorf("token missing")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("invalid token claims")
	}

	identity := Identity{}
	for _, key := range []string{"sub", "user_id", "id"} {
		if value, exists := claims[key]; exists {
			if userID, err := normalizeSubject(value); err == nil {
				identity.UserID = userID
				break
			}
		}
	}
	if identity.UserID == 0 {
		return Identity{}, fmt.Errorf("token subject missing")
	}

	if role, exists := claims["role"]; exists {
		if str, ok := role.(string); ok {
			identity.Role = strings.ToLower(strings.TrimSpace(str))
		}
	}
	if email, exists := claims["email"]; exists {
		if str, ok := email.(string); ok {
			identity.Email = strings.TrimSpace(str)
		}
	}

	return identity, nil
}

func normalizeSubject(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	default:
		return 0, fmt.Errorf("unsupported subject type")
	}
}
