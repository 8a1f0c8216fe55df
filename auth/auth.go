// Package auth verifies Bearer tokens and supplies the authentication signal
// the admission gate uses to pick a policy tier. Verification here is
// advisory: an absent or invalid token downgrades the caller to the anonymous
// tier instead of rejecting the request. Endpoints that require a valid
// identity enforce that themselves.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails signature or claim checks.
var ErrInvalidToken = errors.New("invalid authentication token")

// Identity is the verified caller.
type Identity struct {
	ID   string
	Role string
}

// Claims is the token payload: caller id and role on top of the registered
// claim set.
type Claims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier signs and verifies HMAC-SHA256 Bearer tokens.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

// NewVerifier creates a Verifier with a 24 hour token lifetime.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		ttl:    24 * time.Hour,
	}
}

// GenerateToken mints a signed token for the given caller.
func (v *Verifier) GenerateToken(id, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:   id,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a raw token string.
func (v *Verifier) Verify(raw string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Identity{ID: claims.ID, Role: claims.Role}, nil
}

// TokenInfo extracts the caller identity from the request's Authorization
// header. It never fails the request: a missing or invalid token yields an
// anonymous identity and false.
func (v *Verifier) TokenInfo(r *http.Request) (Identity, bool) {
	raw := bearerToken(r)
	if raw == "" {
		return Identity{}, false
	}

	identity, err := v.Verify(raw)
	if err != nil {
		return Identity{}, false
	}
	return identity, true
}

// Authenticated reports only the boolean tier signal, in the shape the
// admission gate consumes.
func (v *Verifier) Authenticated(r *http.Request) bool {
	_, ok := v.TokenInfo(r)
	return ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
