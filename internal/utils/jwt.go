// Package utils provides helpers for token creation and password hashing.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes access from refresh tokens.  The kind is embedded
// in the "typ" claim so a refresh token can never be replayed as an access
// token even if both secrets were configured identically.
type TokenKind string

const (
	AccessKind  TokenKind = "access"
	RefreshKind TokenKind = "refresh"
)

var (
	// ErrExpiredToken is returned when the token signature is valid but its
	// exp claim lies in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrInvalidToken covers every other verification failure: bad
	// signature, unexpected algorithm, wrong kind or malformed subject.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessToken represents a signed JWT access token along with its expiry.
// Access tokens are short‑lived and sent in the Authorization header when
// calling protected endpoints.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a long‑lived signed token used to obtain new access
// tokens.  Raw is returned to the client in a cookie; the server stores only
// its SHA‑256 hash so a superseded token can be rejected before it expires.
type RefreshToken struct {
	Raw string    // signed JWT returned to the client
	Exp time.Time // UTC expiration time
}

type tokenClaims struct {
	Kind TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// NewAccessToken builds and signs an HS256 JWT for a user.  The subject is
// the decimal user id.
func NewAccessToken(secret string, userID uint64, ttl time.Duration) (AccessToken, error) {
	signed, exp, err := sign(secret, userID, AccessKind, ttl, "")
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// NewRefreshToken builds and signs an HS256 refresh JWT carrying a random jti.
func NewRefreshToken(secret string, userID uint64, ttl time.Duration) (RefreshToken, error) {
	signed, exp, err := sign(secret, userID, RefreshKind, ttl, uuid.NewString())
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: signed, Exp: exp}, nil
}

func sign(secret string, userID uint64, kind TokenKind, ttl time.Duration, jti string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := tokenClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseToken verifies raw with secret and returns the user id it was issued
// for.  Only HS256 tokens of the requested kind with an exp claim pass.
func ParseToken(secret, raw string, kind TokenKind) (uint64, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredToken
		}
		return 0, ErrInvalidToken
	}
	if claims.Kind != kind {
		return 0, ErrInvalidToken
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return 0, ErrInvalidToken
	}
	return uid, nil
}

// HashRefreshRaw returns the SHA‑256 hash of the raw refresh token as a hex
// string.  Only the hash is stored in users.refresh_token_hash.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
