package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NicoZweifel/aquila/pkg/token"
)

type staticVerifier struct {
	id  token.Identity
	err error
}

func (s staticVerifier) Verify(_ context.Context, _ string) (token.Identity, error) {
	return s.id, s.err
}

func TestRequireRejectsMissingScope(t *testing.T) {
	gate := New(staticVerifier{id: token.NewIdentity("bob", []string{"read"})}, nil)

	called := false
	h := gate.Require("write", func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/manifest", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	h(rec, req)

	require.False(t, called)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAllowsExactScope(t *testing.T) {
	gate := New(staticVerifier{id: token.NewIdentity("bob", []string{"write"})}, nil)

	called := false
	h := gate.Require("write", func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/manifest", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAllowsAdminWildcard(t *testing.T) {
	gate := New(staticVerifier{id: token.NewIdentity("root", []string{"admin"})}, nil)

	called := false
	h := gate.Require("job:attach", func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/jobs/1/attach", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.True(t, called)
}

func TestExtractCredentialTrimsBearerPrefix(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	require.Equal(t, "abc123", ExtractCredential(req))
}

func TestExtractCredentialAbsentHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, "", ExtractCredential(req))
}
