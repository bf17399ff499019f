// Package auth defines the delegated auth port (C2) and the layered
// verifier (C5) that tries a signed-token service first and falls
// through to a delegated provider.
package auth

import (
	"context"
	"errors"

	"github.com/NicoZweifel/aquila/pkg/autherr"
	"github.com/NicoZweifel/aquila/pkg/token"
)

// Provider abstracts an external identity source: verifying an opaque
// credential string, and optionally driving an interactive login
// exchange (spec §4.3, §4.6).
type Provider interface {
	Verify(ctx context.Context, credential string) (token.Identity, error)
	LoginURL() (string, error)
	ExchangeCode(ctx context.Context, code string) (token.Identity, error)
}

// Verifier is what the scope gate (C6) depends on.
type Verifier interface {
	Verify(ctx context.Context, credential string) (token.Identity, error)
}

// Layered tries the token service first; on any non-expired failure it
// delegates to the wrapped provider. It never races the two: the
// expired-token rule in spec §4.3 step 2 depends on trying the token
// service to completion before considering the provider at all.
type Layered struct {
	Tokens   *token.Service
	Delegate Provider
}

func NewLayered(tokens *token.Service, delegate Provider) *Layered {
	return &Layered{Tokens: tokens, Delegate: delegate}
}

func (l *Layered) Verify(ctx context.Context, credential string) (token.Identity, error) {
	if credential == "" {
		return token.Identity{}, autherr.New(autherr.Missing, "missing credential")
	}

	id, err := l.Tokens.Verify(credential)
	if err == nil {
		return id, nil
	}

	var ae *autherr.Error
	if errors.As(err, &ae) && ae.Kind == autherr.Expired {
		return token.Identity{}, err
	}

	if l.Delegate == nil {
		return token.Identity{}, autherr.New(autherr.Unsupported, "no delegated auth provider configured")
	}
	return l.Delegate.Verify(ctx, credential)
}

func (l *Layered) LoginURL() (string, error) {
	if l.Delegate == nil {
		return "", autherr.New(autherr.Unsupported, "no delegated auth provider configured")
	}
	return l.Delegate.LoginURL()
}

func (l *Layered) ExchangeCode(ctx context.Context, code string) (token.Identity, error) {
	if l.Delegate == nil {
		return token.Identity{}, autherr.New(autherr.Unsupported, "no delegated auth provider configured")
	}
	return l.Delegate.ExchangeCode(ctx, code)
}
