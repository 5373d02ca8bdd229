// Package auth mints and verifies the bearer tokens devices present to a
// procedure catalog.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of a minted device token.
const DefaultTTL = 5 * time.Minute

// Issuer is stamped into every minted token.
const Issuer = "procsync"

// ErrUnauthorized is returned for a missing, malformed or invalid token.
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the JWT claims of a device token. The subject is the device id.
type Claims struct {
	jwt.RegisteredClaims
}

// Mint signs an HS256 token for deviceID that expires after ttl
// (DefaultTTL when zero).
func Mint(secret []byte, deviceID string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("mint token: empty secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   deviceID,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenStr, checks its signature and expiry, and returns the
// device id it was minted for.
func Verify(secret []byte, tokenStr string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(Issuer))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", ErrUnauthorized)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: invalid authorization format", ErrUnauthorized)
	}
	return strings.TrimSpace(parts[1]), nil
}
