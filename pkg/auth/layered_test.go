package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicoZweifel/aquila/pkg/autherr"
	"github.com/NicoZweifel/aquila/pkg/token"
)

type fakeProvider struct {
	called bool
	id     token.Identity
	err    error
}

func (f *fakeProvider) Verify(_ context.Context, _ string) (token.Identity, error) {
	f.called = true
	return f.id, f.err
}
func (f *fakeProvider) LoginURL() (string, error) { return "https://example.com/login", nil }
func (f *fakeProvider) ExchangeCode(_ context.Context, _ string) (token.Identity, error) {
	return f.id, f.err
}

func TestLayeredMissingCredential(t *testing.T) {
	l := NewLayered(token.NewService("secret"), &fakeProvider{})
	_, err := l.Verify(context.Background(), "")
	var ae *autherr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, autherr.Missing, ae.Kind)
}

func TestLayeredExpiredDoesNotFallThrough(t *testing.T) {
	ts := token.NewService("secret")
	tok, err := ts.Mint("bob", []string{"read"}, -time.Second)
	require.NoError(t, err)

	provider := &fakeProvider{id: token.NewIdentity("bob", []string{"read"})}
	l := NewLayered(ts, provider)

	_, err = l.Verify(context.Background(), tok)
	var ae *autherr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, autherr.Expired, ae.Kind)
	require.False(t, provider.called, "expired token must not fall through to the delegated provider")
}

func TestLayeredInvalidFallsThrough(t *testing.T) {
	ts := token.NewService("secret")
	provider := &fakeProvider{id: token.NewIdentity("carol", []string{"read"})}
	l := NewLayered(ts, provider)

	id, err := l.Verify(context.Background(), "not-a-jwt")
	require.NoError(t, err)
	require.True(t, provider.called)
	require.Equal(t, "carol", id.ID)
}

func TestLayeredValidSignedTokenShortCircuits(t *testing.T) {
	ts := token.NewService("secret")
	tok, err := ts.Mint("bob", []string{"read"}, time.Minute)
	require.NoError(t, err)

	provider := &fakeProvider{}
	l := NewLayered(ts, provider)

	id, err := l.Verify(context.Background(), tok)
	require.NoError(t, err)
	require.False(t, provider.called)
	require.Equal(t, "bob", id.ID)
}
