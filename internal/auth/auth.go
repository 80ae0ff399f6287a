// Package auth mints and checks the role tokens API clients present.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agri-trace-api-server/internal/models"
)

// JWTClaims defines the payload for the JWT.
type JWTClaims struct {
	Role  models.Role `json:"role"`
	Actor string      `json:"actor,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 tokens. An empty secret disables auth entirely.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether tokens are required.
func (i *Issuer) Enabled() bool { return i != nil && len(i.secret) > 0 }

// GenerateJWT issues a token for subject acting as role.
func (i *Issuer) GenerateJWT(subject string, role models.Role) (string, error) {
	if !i.Enabled() {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := &JWTClaims{
		Role:  role,
		Actor: role.Actor(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parse validates signature, algorithm and expiry, and normalizes the role.
func (i *Issuer) Parse(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	role, err := models.ParseRole(string(claims.Role))
	if err != nil {
		return nil, fmt.Errorf("token role: %w", err)
	}
	claims.Role = role
	return claims, nil
}
