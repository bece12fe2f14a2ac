// Package token implements the capability token service on HS256 JWTs.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stagelink/server/internal/core"
)

type claims struct {
	jwt.RegisteredClaims
	Room   string      `json:"room"`
	Grants core.Grants `json:"grants"`
}

// Service signs and reads room capability tokens with a shared HMAC secret.
type Service struct {
	secret []byte
	issuer string
}

func NewService(secret, issuer string) *Service {
	return &Service{secret: []byte(secret), issuer: issuer}
}

// Mint signs a token scoping identity to room. ttl <= 0 omits the expiry.
func (s *Service) Mint(identity, room string, grants core.Grants, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identity,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Room:   room,
		Grants: grants,
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode reads claims without verifying the signature. Used for internal
// bookkeeping such as finding which room a stored token points at.
func (s *Service) Decode(token string) (core.Claims, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return core.Claims{}, fmt.Errorf("%w: %v", core.ErrBadToken, err)
	}
	return toClaims(c), nil
}

// Verify parses and validates the signature and expiry.
func (s *Service) Verify(token string) (core.Claims, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return core.Claims{}, fmt.Errorf("%w: %v", core.ErrBadToken, err)
	}
	return toClaims(c), nil
}

func toClaims(c claims) core.Claims {
	out := core.Claims{
		Identity: c.Subject,
		Room:     c.Room,
		Grants:   c.Grants,
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
