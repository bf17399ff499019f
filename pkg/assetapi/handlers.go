// Package assetapi implements the content-addressed asset API (C7):
// buffered and streaming upload with integrity checking, download with
// optional redirect, and manifest publish/read.
package assetapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/NicoZweifel/aquila/pkg/apierr"
	"github.com/NicoZweifel/aquila/pkg/audit"
	"github.com/NicoZweifel/aquila/pkg/gateway"
	"github.com/NicoZweifel/aquila/pkg/storage"
	"github.com/NicoZweifel/aquila/pkg/storeerr"
	"github.com/NicoZweifel/aquila/pkg/webhook"
)

const redirectExpiry = 15 * time.Minute

// AssetInfo describes one logical path's entry in a manifest (spec §3).
type AssetInfo struct {
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
}

// Manifest maps logical paths to blob hashes (spec §3).
type Manifest struct {
	Version  string                 `json:"version"`
	Assets   map[string]AssetInfo   `json:"assets"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type Handler struct {
	Storage storage.Driver
	Audit   *audit.Service
	Webhook *webhook.Service
	Log     *logrus.Logger
}

func NewHandler(store storage.Driver, aud *audit.Service, hook *webhook.Service, log *logrus.Logger) *Handler {
	return &Handler{Storage: store, Audit: aud, Webhook: hook, Log: log}
}

func actorFrom(r *http.Request) string {
	if id, ok := gateway.IdentityFrom(r.Context()); ok {
		return id.ID
	}
	return "anonymous"
}

// Upload implements POST /assets — buffered upload (spec §4.1).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.Write(h.Log, w, r, storeerr.Wrap(storeerr.Io, "read upload body", err))
		return
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	outcome, err := h.Storage.Write(r.Context(), storage.BlobPath(hash), newByteReader(body), int64(len(body)))
	if err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}

	h.Audit.Log(actorFrom(r), "asset.upload", hash, map[string]interface{}{"size": len(body)})

	status := http.StatusOK
	if outcome == storage.Created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(hash))
}

// UploadStream implements PUT /assets/stream/{hash} — streaming upload
// with integrity checking (spec §4.1).
func (h *Handler) UploadStream(w http.ResponseWriter, r *http.Request) {
	claimedHash := mux.Vars(r)["hash"]

	var sizeHint int64 = -1
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			sizeHint = n
		}
	}

	hasher := sha256.New()
	var mu sync.Mutex
	tee := &hashingReader{r: r.Body, hasher: hasher, mu: &mu}

	outcome, err := h.Storage.Write(r.Context(), storage.BlobPath(claimedHash), tee, sizeHint)
	if err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}

	mu.Lock()
	computed := hex.EncodeToString(hasher.Sum(nil))
	mu.Unlock()

	// Existed means the blob already stored at this hash was kept and the
	// backend may not have read the body at all, so only a blob this
	// request created is checked and rolled back.
	if outcome == storage.Created && computed != claimedHash {
		if delErr := h.Storage.Delete(r.Context(), storage.BlobPath(claimedHash)); delErr != nil {
			h.Log.WithError(delErr).WithField("hash", claimedHash).Warn("failed to roll back corrupt blob")
		}
		apierr.Write(h.Log, w, r, storeerr.New(storeerr.System, "uploaded content does not match claimed hash"))
		return
	}

	h.Audit.Log(actorFrom(r), "asset.upload.stream", claimedHash, nil)

	status := http.StatusOK
	if outcome == storage.Created {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
}

// Download implements GET /assets/{hash} (spec §4.1). It probes the
// storage port's redirect capability exactly once per request (spec §9
// open question (a)).
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	path := storage.BlobPath(hash)

	if url, ok, err := h.Storage.RedirectURL(r.Context(), path, redirectExpiry); err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	} else if ok {
		h.Audit.Log(actorFrom(r), "asset.download", hash, map[string]interface{}{"redirected": true})
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}

	reader, err := h.Storage.Read(r.Context(), path)
	if err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}
	defer reader.Close()

	h.Audit.Log(actorFrom(r), "asset.download", hash, map[string]interface{}{"redirected": false})
	w.WriteHeader(http.StatusOK)
	io.Copy(w, reader)
}

// PublishManifest implements POST /manifest?latest={bool} (spec §4.1).
func (h *Handler) PublishManifest(w http.ResponseWriter, r *http.Request) {
	var m Manifest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		apierr.Write(h.Log, w, r, storeerr.Wrap(storeerr.InvalidRequest, "invalid manifest JSON", err))
		return
	}

	latest := true
	if v := r.URL.Query().Get("latest"); v != "" {
		latest = v == "true"
	}

	pretty, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		apierr.Write(h.Log, w, r, storeerr.Wrap(storeerr.Serialization, "re-serialize manifest", err))
		return
	}

	if _, err := h.Storage.Write(r.Context(), storage.ManifestPath(m.Version), newByteReader(pretty), int64(len(pretty))); err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}

	if latest {
		if _, err := h.Storage.Write(r.Context(), storage.ManifestLatestPath, newByteReader(pretty), int64(len(pretty))); err != nil {
			apierr.Write(h.Log, w, r, err)
			return
		}
	}

	h.Audit.Log(actorFrom(r), "manifest.publish", m.Version, map[string]interface{}{"latest": latest})
	h.Webhook.Notify(r.Context(), webhook.Event{
		Action:    "manifest.published",
		Subject:   m.Version,
		Actor:     actorFrom(r),
		Timestamp: time.Now(),
	})

	w.WriteHeader(http.StatusCreated)
}

// ReadManifest implements GET /manifest/{version} (spec §4.1).
func (h *Handler) ReadManifest(w http.ResponseWriter, r *http.Request) {
	version := mux.Vars(r)["version"]

	reader, err := h.Storage.Read(r.Context(), storage.ManifestPath(version))
	if err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		apierr.Write(h.Log, w, r, storeerr.Wrap(storeerr.Io, "read manifest", err))
		return
	}

	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		apierr.Write(h.Log, w, r, storeerr.Wrap(storeerr.Serialization, "parse stored manifest", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(parsed)
}
