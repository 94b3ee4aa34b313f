// Package auth issues and verifies the bearer tokens that carry a caller's
// identity and role into the API.
//
// Go Learning Note: Embedding for Claims
// Claims embeds jwt.RegisteredClaims, so the standard fields (sub, exp, iat,
// jti, iss) and their validation methods are promoted onto Claims. Only the
// application-specific roles field has to be declared here.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	RoleDriver = "DRIVER"
	RoleRider  = "RIDER"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// UserID is the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenService signs and verifies HS256 tokens with one shared key.
type TokenService struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(key []byte, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{
		key:    key,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a token for userID holding the given roles.
func (s *TokenService) Issue(userID string, roles ...string) (string, error) {
	if userID == "" {
		return "", errors.New("issue token: empty user id")
	}
	now := s.now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and issuer of token and returns its
// claims. Failures wrap ErrExpiredToken or ErrInvalidToken.
func (s *TokenService) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrExpiredToken, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
