// Package service composes C1-C6 into the C7-C8 HTTP handlers and
// mounts them on the canonical URL table (spec §6). This is C9, the
// service registry — the teacher's main.go assembled its handlers the
// same way: construct every dependency once, then wire handlers to
// routes against the assembled registry.
package service

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/NicoZweifel/aquila/pkg/assetapi"
	"github.com/NicoZweifel/aquila/pkg/audit"
	"github.com/NicoZweifel/aquila/pkg/auth"
	"github.com/NicoZweifel/aquila/pkg/compute"
	"github.com/NicoZweifel/aquila/pkg/gateway"
	"github.com/NicoZweifel/aquila/pkg/jobapi"
	"github.com/NicoZweifel/aquila/pkg/storage"
	"github.com/NicoZweifel/aquila/pkg/token"
	"github.com/NicoZweifel/aquila/pkg/tokenapi"
	"github.com/NicoZweifel/aquila/pkg/webhook"
)

// Registry holds every constructed component the router needs. It is
// built once at startup and shared read-only across request-handling
// goroutines (spec §5's "shared state" rule).
type Registry struct {
	Storage  storage.Driver
	Tokens   *token.Service
	Delegate auth.Provider
	Elevator gateway.Elevator
	Backend  compute.Backend
	Webhook  *webhook.Service
	Audit    *audit.Service
	Log      *logrus.Logger

	CallbackPath string
}

// NewRouter mounts the URL table from spec §6 on a fresh gorilla/mux
// router, wiring every route through the scope gate (C6) except the
// handful explicitly marked "none" in the scope column.
func NewRouter(reg *Registry) *mux.Router {
	layered := auth.NewLayered(reg.Tokens, reg.Delegate)
	gate := gateway.New(layered, reg.Elevator)

	assets := assetapi.NewHandler(reg.Storage, reg.Audit, reg.Webhook, reg.Log)
	jobs := jobapi.NewHandler(reg.Backend, reg.Webhook, reg.Audit, reg.Log)
	tokens := tokenapi.NewHandler(reg.Tokens, reg.Delegate, reg.Audit, reg.Log)

	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/auth/login", tokens.Login).Methods(http.MethodGet)
	r.HandleFunc("/auth/token", gate.Require("write", tokens.IssueToken)).Methods(http.MethodPost)

	callbackPath := reg.CallbackPath
	if callbackPath == "" {
		callbackPath = "/auth/callback"
	}
	r.HandleFunc(callbackPath, tokens.Callback).Methods(http.MethodGet)

	r.HandleFunc("/assets/{hash}", gate.Require("asset:download", assets.Download)).Methods(http.MethodGet)
	r.HandleFunc("/assets", gate.Require("asset:upload", assets.Upload)).Methods(http.MethodPost)
	r.HandleFunc("/assets/stream/{hash}", gate.Require("asset:upload", assets.UploadStream)).Methods(http.MethodPut)

	r.HandleFunc("/manifest/{version}", gate.Require("manifest:download", assets.ReadManifest)).Methods(http.MethodGet)
	r.HandleFunc("/manifest", gate.Require("manifest:publish", assets.PublishManifest)).Methods(http.MethodPost)

	r.HandleFunc("/jobs/run", gate.Require("job:run", jobs.Submit)).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/attach", gate.Require("job:attach", jobs.Attach)).Methods(http.MethodGet)

	return r
}

// WithGlobalMiddleware wraps next with request logging and permissive
// CORS, adapted from the teacher's main.go globalMiddleware closure.
func WithGlobalMiddleware(log *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"remote": r.RemoteAddr,
		}).Info("request")

		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
