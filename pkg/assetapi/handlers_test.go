package assetapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/NicoZweifel/aquila/pkg/audit"
	"github.com/NicoZweifel/aquila/pkg/storage/storagetest"
	"github.com/NicoZweifel/aquila/pkg/webhook"
)

func newTestHandler() *Handler {
	log := logrus.New()
	log.SetOutput(new(bytes.Buffer))
	return NewHandler(storagetest.New(), audit.NewService(log), webhook.NewService("", log), log)
}

func router(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/assets", h.Upload).Methods(http.MethodPost)
	r.HandleFunc("/assets/stream/{hash}", h.UploadStream).Methods(http.MethodPut)
	r.HandleFunc("/assets/{hash}", h.Download).Methods(http.MethodGet)
	r.HandleFunc("/manifest", h.PublishManifest).Methods(http.MethodPost)
	r.HandleFunc("/manifest/{version}", h.ReadManifest).Methods(http.MethodGet)
	return r
}

// S1: upload "hello" twice, then download.
func TestUploadDownloadRoundTrip(t *testing.T) {
	r := router(newTestHandler())

	req := httptest.NewRequest(http.MethodPost, "/assets", bytes.NewBufferString("hello"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	hash := rec.Body.String()
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)

	req2 := httptest.NewRequest(http.MethodPost, "/assets", bytes.NewBufferString("hello"))
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, hash, rec2.Body.String())

	req3 := httptest.NewRequest(http.MethodGet, "/assets/"+hash, nil)
	rec3 := httptest.NewRecorder()
	r.ServeHTTP(rec3, req3)
	require.Equal(t, http.StatusOK, rec3.Code)
	require.Equal(t, "hello", rec3.Body.String())
}

// S3: streaming upload with a mismatched hash is rejected and rolled back.
func TestUploadStreamIntegrityFailure(t *testing.T) {
	r := router(newTestHandler())

	req := httptest.NewRequest(http.MethodPut, "/assets/stream/deadbeef", bytes.NewBufferString("x"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/assets/deadbeef", nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestUploadStreamSuccess(t *testing.T) {
	r := router(newTestHandler())

	// hash is sha256("hello"), the same digest scenario S1 checks.
	body := "hello"
	hash := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	req := httptest.NewRequest(http.MethodPut, "/assets/stream/"+hash, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/assets/"+hash, nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, body, rec2.Body.String())
}

// S2/P4: manifest publish with latest=true is readable from both paths.
func TestManifestPublishAndLatestAlias(t *testing.T) {
	r := router(newTestHandler())

	manifest := Manifest{
		Version: "v1",
		Assets: map[string]AssetInfo{
			"a.png": {Hash: "aa", Size: 1},
		},
	}
	body, err := json.Marshal(manifest)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/manifest?latest=true", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req1 := httptest.NewRequest(http.MethodGet, "/manifest/v1", nil)
	rec1 := httptest.NewRecorder()
	r.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/manifest/latest", nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	require.JSONEq(t, rec1.Body.String(), rec2.Body.String())
}

func TestManifestPublishWithoutLatest(t *testing.T) {
	r := router(newTestHandler())

	manifest := Manifest{Version: "v2", Assets: map[string]AssetInfo{}}
	body, _ := json.Marshal(manifest)

	req := httptest.NewRequest(http.MethodPost, "/manifest?latest=false", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/manifest/v2", nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestReadManifestMissing(t *testing.T) {
	r := router(newTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/manifest/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
