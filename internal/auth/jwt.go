// Package auth verifies the HS256 bearer tokens issued by the identity
// provider and turns them into domain actors.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pkordes/fieldops/internal/domain"
)

// Claims is the token payload. Subject carries the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and parses tokens with a shared secret.
type Manager struct {
	secret []byte
	now    func() time.Time
}

// NewManager returns a Manager for the given HMAC secret.
func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for actor valid for ttl. Production tokens come from the
// identity provider; this exists for tooling and tests.
func (m *Manager) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth.Manager.Issue: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the actor it names. Every failure wraps
// domain.ErrUnauthorized.
func (m *Manager) Verify(token string) (domain.Actor, error) {
	if token == "" {
		return domain.Actor{}, fmt.Errorf("auth.Manager.Verify: missing token: %w", domain.ErrUnauthorized)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("auth.Manager.Verify: %w: %w", domain.ErrUnauthorized, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return domain.Actor{}, fmt.Errorf("auth.Manager.Verify: subject: %w", domain.ErrUnauthorized)
	}
	role := domain.Role(claims.Role)
	if !role.Valid() {
		return domain.Actor{}, fmt.Errorf("auth.Manager.Verify: role %q: %w", claims.Role, domain.ErrUnauthorized)
	}
	return domain.Actor{UserID: userID, Role: role}, nil
}

// ErrMissingBearer is returned by BearerToken when the header is absent or malformed.
var ErrMissingBearer = errors.New("missing bearer token")

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", ErrMissingBearer
	}
	return header[len(prefix):], nil
}
