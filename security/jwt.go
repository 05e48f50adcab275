// Package security provides authentication primitives: JWT issuance and
// validation, and password hashing.
package security

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTService issues and validates HS256 JWTs carrying {sub: user_id, exp}.
type JWTService struct {
	secret []byte
}

func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(secret)}
}

// GenerateToken issues a token for userID valid for the given lifetime.
func (j *JWTService) GenerateToken(userID string, lifetime time.Duration) (string, error) {
	now := time.Now()
	token, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(lifetime)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// ValidateToken verifies signature and expiry and returns the subject
// (user ID).
func (j *JWTService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, j.secret), jwt.WithValidate(true))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return token.Subject(), nil
}
