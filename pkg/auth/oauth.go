package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/NicoZweifel/aquila/pkg/autherr"
	"github.com/NicoZweifel/aquila/pkg/token"
)

// OAuthProvider is a concrete example of the delegated auth port (C2):
// it drives an external OAuth2 authorization-code exchange and reports
// back a token.Identity built from the provider's userinfo endpoint.
// Incoming bearer credentials that aren't signed tokens are treated as
// opaque upstream access tokens and verified against the same userinfo
// endpoint.
type OAuthProvider struct {
	Config       *oauth2.Config
	UserInfoURL  string
	DefaultScope []string
}

func NewOAuthProvider(clientID, clientSecret, authURL, tokenURL, redirectURL, userInfoURL string, scopes []string) *OAuthProvider {
	return &OAuthProvider{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		UserInfoURL:  userInfoURL,
		DefaultScope: []string{"read"},
	}
}

type userInfo struct {
	Sub    string   `json:"sub"`
	Scopes []string `json:"scopes"`
}

func (p *OAuthProvider) LoginURL() (string, error) {
	if p.Config == nil || p.Config.Endpoint.AuthURL == "" {
		return "", autherr.New(autherr.Unsupported, "oauth provider not configured")
	}
	return p.Config.AuthCodeURL("state"), nil
}

func (p *OAuthProvider) ExchangeCode(ctx context.Context, code string) (token.Identity, error) {
	if p.Config == nil || p.Config.Endpoint.TokenURL == "" {
		return token.Identity{}, autherr.New(autherr.Unsupported, "oauth provider not configured")
	}

	tok, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return token.Identity{}, autherr.Wrap(autherr.System, "exchange oauth code", err)
	}

	return p.fetchUserInfo(ctx, tok.AccessToken)
}

// Verify treats credential as an opaque upstream access token and
// resolves it against the provider's userinfo endpoint. This is the
// delegate path the layered verifier (C5) falls through to when the
// credential isn't a signed token this service minted.
func (p *OAuthProvider) Verify(ctx context.Context, credential string) (token.Identity, error) {
	if p.UserInfoURL == "" {
		return token.Identity{}, autherr.New(autherr.Unsupported, "oauth provider not configured")
	}
	return p.fetchUserInfo(ctx, credential)
}

func (p *OAuthProvider) fetchUserInfo(ctx context.Context, accessToken string) (token.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return token.Identity{}, autherr.Wrap(autherr.System, "build userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return token.Identity{}, autherr.Wrap(autherr.System, "call userinfo endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return token.Identity{}, autherr.New(autherr.Invalid, "upstream credential rejected")
	}
	if resp.StatusCode >= 400 {
		return token.Identity{}, autherr.New(autherr.System, "userinfo endpoint error")
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return token.Identity{}, autherr.Wrap(autherr.System, "decode userinfo response", err)
	}

	scopes := info.Scopes
	if len(scopes) == 0 {
		scopes = p.DefaultScope
	}
	return token.NewIdentity(info.Sub, scopes), nil
}
