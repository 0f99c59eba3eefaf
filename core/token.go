package core

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionTTL is the lifetime of an issued session token and its cookie.
const SessionTTL = 7 * 24 * time.Hour

// SessionClaims is the payload carried by a session token.
type SessionClaims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens with a server-held secret.
// Tokens are not persisted; validity is signature plus expiry.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer builds an issuer with the default 7-day lifetime.
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("empty token secret")
	}
	return &TokenIssuer{secret: []byte(secret), ttl: SessionTTL, now: time.Now}, nil
}

// IssueToken encodes the user's identity with issued-at/expires-at and signs it.
func (t *TokenIssuer) IssueToken(u User) (string, error) {
	now := t.now()
	claims := SessionClaims{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// VerifyToken checks signature and expiry. Any failure (bad signature,
// expired, malformed, unexpected algorithm) yields (nil, false).
func (t *TokenIssuer) VerifyToken(token string) (*SessionClaims, bool) {
	if token == "" {
		return nil, false
	}
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	if claims.UserID <= 0 || claims.Username == "" {
		return nil, false
	}
	return claims, true
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}
