package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when a string is not a decodable JWT.
var ErrMalformed = errors.New("jwt: malformed token")

// Claims is the subset of access-token claims the client reads.
type Claims struct {
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Inspect decodes token without verifying its signature.
func Inspect(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMalformed
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

// NeedsRefresh reports whether token expires within skew of now. Tokens
// without an exp claim, or that cannot be decoded, never need refresh:
// the server's 401 is the fallback signal.
func NeedsRefresh(token string, now time.Time, skew time.Duration) bool {
	claims, err := Inspect(token)
	if err != nil {
		return false
	}
	exp := claims.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Add(skew).Before(exp)
}
