// ABOUTME: Bearer-token verification for the gateway's HTTP surface.
// ABOUTME: Supports HS256 JWTs and constant-time static token comparison.

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// TokenVerifier defines the interface for bearer token verification.
type TokenVerifier interface {
	Verify(tokenString string) error
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token's signature and expiry.
func (v *JWTVerifier) Verify(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// Generate creates a signed JWT, used by operator tooling to mint client
// credentials.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// StaticVerifier implements TokenVerifier by comparing against a single
// configured token in constant time.
type StaticVerifier struct {
	token []byte
}

// NewStaticVerifier creates a verifier for one shared token.
func NewStaticVerifier(token string) (*StaticVerifier, error) {
	if token == "" {
		return nil, errors.New("token is required")
	}
	return &StaticVerifier{token: []byte(token)}, nil
}

// Verify compares the presented token against the configured one.
func (v *StaticVerifier) Verify(tokenString string) error {
	if subtle.ConstantTimeCompare(v.token, []byte(tokenString)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
