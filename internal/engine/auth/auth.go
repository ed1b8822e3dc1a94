// Package auth mints and verifies the HS256 bearer tokens whose subject is a
// user id.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ForbiddenError indicates the authenticated user may not touch a resource.
type ForbiddenError struct {
	UserID   string
	Resource string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("user %s may not access %s", e.UserID, e.Resource)
}

var ErrSecretMissing = errors.New("jwt secret not configured")

type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Tokens issues and verifies tokens with a shared secret.
type Tokens struct {
	Secret string
	Issuer string
	Now    func() time.Time
}

func (t Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Issue returns a signed token for userID. ttl <= 0 means no expiry.
func (t Tokens) Issue(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(t.Secret) == "" {
		return "", ErrSecretMissing
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}
	now := t.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  userID,
		Issuer:   t.Issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.Secret))
}

// Verify parses token and returns the user id it was issued for.
func (t Tokens) Verify(token string) (string, error) {
	if strings.TrimSpace(t.Secret) == "" {
		return "", ErrSecretMissing
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(t.Secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}
