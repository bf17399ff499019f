// Package token implements the signed-token service (C4): minting and
// verifying short identity+scope assertions.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/NicoZweifel/aquila/pkg/autherr"
)

// Identity is the non-persistent, per-request reconstruction of "who is
// calling and what are they allowed to do" (spec §3).
type Identity struct {
	ID     string
	Scopes map[string]bool
}

func NewIdentity(id string, scopes []string) Identity {
	set := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return Identity{ID: id, Scopes: set}
}

// HasScope reports whether the identity holds scope or the admin wildcard.
func (i Identity) HasScope(scope string) bool {
	return i.Scopes["admin"] || i.Scopes[scope]
}

type claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Service mints and verifies HMAC-signed tokens.
type Service struct {
	secret []byte
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// Mint constructs a token asserting subject holds scopes, expiring after
// duration. Failures are reported as autherr System errors.
func (s *Service) Mint(subject string, scopes []string, duration time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", autherr.Wrap(autherr.System, "sign token", err)
	}
	return signed, nil
}

// Verify decodes and validates token, distinguishing expired tokens from
// all other invalid forms (spec §4.2, open question (b) — required by
// the layered-auth fall-through rule in §4.3).
func (s *Service) Verify(tok string) (Identity, error) {
	if tok == "" {
		return Identity{}, autherr.New(autherr.Missing, "missing credential")
	}

	var c claims
	_, err := jwt.ParseWithClaims(tok, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, autherr.New(autherr.Expired, "token expired")
		}
		return Identity{}, autherr.New(autherr.Invalid, "invalid token")
	}

	return NewIdentity(c.Subject, c.Scopes), nil
}
