// Package tokenapi implements the authentication HTTP surface: login
// redirect, the scoped token-issuance endpoint, and the OAuth callback
// (spec §4.5, §4.6).
package tokenapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NicoZweifel/aquila/pkg/apierr"
	"github.com/NicoZweifel/aquila/pkg/audit"
	"github.com/NicoZweifel/aquila/pkg/auth"
	"github.com/NicoZweifel/aquila/pkg/autherr"
	"github.com/NicoZweifel/aquila/pkg/gateway"
	"github.com/NicoZweifel/aquila/pkg/storeerr"
	"github.com/NicoZweifel/aquila/pkg/token"
)

const (
	defaultScope           = "read"
	defaultDurationSeconds = 365 * 24 * 60 * 60
	callbackTokenTTL       = 30 * 24 * time.Hour
)

type Handler struct {
	Tokens   *token.Service
	Provider auth.Provider
	Audit    *audit.Service
	Log      *logrus.Logger
}

func NewHandler(tokens *token.Service, provider auth.Provider, aud *audit.Service, log *logrus.Logger) *Handler {
	return &Handler{Tokens: tokens, Provider: provider, Audit: aud, Log: log}
}

// Login implements GET /auth/login (spec §6): 307 to the provider's
// login URL, or 501 if no delegated provider is configured.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		apierr.Write(h.Log, w, r, autherr.New(autherr.Unsupported, "no delegated auth provider configured"))
		return
	}
	url, err := h.Provider.LoginURL()
	if err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

type mintRequest struct {
	Subject         string   `json:"subject"`
	DurationSeconds int64    `json:"duration_seconds"`
	Scopes          []string `json:"scopes"`
}

type mintResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// IssueToken implements POST /auth/token (spec §4.5). The caller must
// already hold the `write` scope (enforced by the scope gate); a
// non-admin caller additionally cannot mint a token carrying `admin` or
// `write`.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(h.Log, w, r, storeerr.Wrap(storeerr.InvalidRequest, "invalid token request JSON", err))
		return
	}
	if req.Subject == "" {
		apierr.Write(h.Log, w, r, storeerr.New(storeerr.InvalidRequest, "subject is required"))
		return
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{defaultScope}
	}
	duration := req.DurationSeconds
	if duration <= 0 {
		duration = defaultDurationSeconds
	}

	caller, _ := gateway.IdentityFrom(r.Context())
	if !caller.HasScope("admin") {
		for _, s := range scopes {
			if s == "admin" || s == "write" {
				apierr.Write(h.Log, w, r, autherr.New(autherr.Forbidden, "non-admin callers cannot request admin or write scopes"))
				return
			}
		}
	}

	signed, err := h.Tokens.Mint(req.Subject, scopes, time.Duration(duration)*time.Second)
	if err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}

	actor := "anonymous"
	if caller.ID != "" {
		actor = caller.ID
	}
	h.Audit.Log(actor, "token.issue", req.Subject, map[string]interface{}{"scopes": scopes})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mintResponse{Token: signed, ExpiresIn: duration})
}

type callbackResponse struct {
	Status string `json:"status"`
	User   string `json:"user"`
	Token  string `json:"token"`
}

// Callback implements GET <configured-callback-path>?code=... (spec §4.6).
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		apierr.Write(h.Log, w, r, autherr.New(autherr.Unsupported, "no delegated auth provider configured"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		apierr.Write(h.Log, w, r, storeerr.New(storeerr.InvalidRequest, "missing code parameter"))
		return
	}

	id, err := h.Provider.ExchangeCode(r.Context(), code)
	if err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}

	scopes := make([]string, 0, len(id.Scopes))
	for s, ok := range id.Scopes {
		if ok {
			scopes = append(scopes, s)
		}
	}

	signed, err := h.Tokens.Mint(id.ID, scopes, callbackTokenTTL)
	if err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}

	h.Audit.Log(id.ID, "token.callback", id.ID, map[string]interface{}{"scopes": scopes})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(callbackResponse{Status: "success", User: id.ID, Token: signed})
}
