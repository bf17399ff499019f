// Package gateway implements the scope gate (C6): extracting a bearer
// credential, resolving it to an identity, optionally elevating its
// scopes, and enforcing a required scope.
package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/NicoZweifel/aquila/pkg/autherr"
	"github.com/NicoZweifel/aquila/pkg/token"
)

type contextKey string

const identityKey contextKey = "identity"

// Elevator rewrites an identity's scopes, e.g. mapping external group
// memberships onto internal scope names (spec §4.4 point 4). A nil
// Elevator is a pass-through.
type Elevator interface {
	Elevate(ctx context.Context, id token.Identity) (token.Identity, error)
}

// Verifier is the subset of auth.Layered the gate depends on.
type Verifier interface {
	Verify(ctx context.Context, credential string) (token.Identity, error)
}

type ScopeGate struct {
	Auth     Verifier
	Elevator Elevator
}

func New(verifier Verifier, elevator Elevator) *ScopeGate {
	return &ScopeGate{Auth: verifier, Elevator: elevator}
}

// ExtractCredential reads the Authorization header, trimming an optional
// "Bearer " prefix; an absent header yields the empty credential.
func ExtractCredential(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// Authenticate resolves the request's credential to an identity, applying
// elevation if configured, without enforcing any particular scope.
func (g *ScopeGate) Authenticate(r *http.Request) (token.Identity, error) {
	credential := ExtractCredential(r)
	id, err := g.Auth.Verify(r.Context(), credential)
	if err != nil {
		return token.Identity{}, err
	}

	if g.Elevator == nil {
		return id, nil
	}
	elevated, err := g.Elevator.Elevate(r.Context(), id)
	if err != nil {
		return token.Identity{}, err
	}
	return elevated, nil
}

// Require wraps next so that it only runs once the caller has been
// authenticated and holds requiredScope or the admin wildcard (spec §4.4).
func (g *ScopeGate) Require(requiredScope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := g.Authenticate(r)
		if err != nil {
			writeAuthErr(w, err)
			return
		}

		if !id.HasScope(requiredScope) {
			writeAuthErr(w, autherr.New(autherr.Forbidden, "missing required scope: "+requiredScope))
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// IdentityFrom recovers the identity a ScopeGate attached to the request
// context.
func IdentityFrom(ctx context.Context) (token.Identity, bool) {
	id, ok := ctx.Value(identityKey).(token.Identity)
	return id, ok
}

// WithIdentity attaches id to ctx the same way Require does, for
// handlers or tests that need to simulate an already-authenticated
// request.
func WithIdentity(ctx context.Context, id token.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func writeAuthErr(w http.ResponseWriter, err error) {
	ae, ok := err.(*autherr.Error)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status := ae.Kind.HTTPStatus()
	if ae.Kind == autherr.System {
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, ae.Message, status)
}
