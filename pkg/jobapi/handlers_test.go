package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/NicoZweifel/aquila/pkg/audit"
	"github.com/NicoZweifel/aquila/pkg/compute"
	"github.com/NicoZweifel/aquila/pkg/webhook"
)

type fakeStream struct {
	records []compute.LogOutput
	pos     int
}

func (s *fakeStream) Next(ctx context.Context) (compute.LogOutput, bool, error) {
	if s.pos >= len(s.records) {
		return compute.LogOutput{}, false, nil
	}
	out := s.records[s.pos]
	s.pos++
	return out, true, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeBackend struct {
	result compute.JobResult
	status compute.JobStatus
	stream *fakeStream
}

func (b *fakeBackend) Run(ctx context.Context, req compute.JobRequest) (compute.JobResult, error) {
	return b.result, nil
}

func (b *fakeBackend) Attach(ctx context.Context, jobID string) (compute.LogStream, error) {
	return b.stream, nil
}

func (b *fakeBackend) Status(ctx context.Context, jobID string) (compute.JobStatus, error) {
	return b.status, nil
}

func newTestHandler(backend *fakeBackend) *Handler {
	log := logrus.New()
	log.SetOutput(new(bytes.Buffer))
	return NewHandler(backend, webhook.NewService("", log), audit.NewService(log), log)
}

func router(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/jobs/run", h.Submit).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/attach", h.Attach).Methods(http.MethodGet)
	return r
}

func TestSubmitRejectsEmptyCmd(t *testing.T) {
	backend := &fakeBackend{}
	r := router(newTestHandler(backend))

	body, _ := json.Marshal(compute.JobRequest{})
	req := httptest.NewRequest(http.MethodPost, "/jobs/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitReturnsJobResult(t *testing.T) {
	backend := &fakeBackend{result: compute.JobResult{ID: "job-1", Status: compute.JobStatus{Phase: compute.PhasePending}}}
	r := router(newTestHandler(backend))

	body, _ := json.Marshal(compute.JobRequest{Cmd: []string{"echo", "hi"}})
	req := httptest.NewRequest(http.MethodPost, "/jobs/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result compute.JobResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "job-1", result.ID)
}

// S6: a three-line log sequence is delivered in order, then the socket closes cleanly.
func TestAttachStreamsLogsThenCloses(t *testing.T) {
	stream := &fakeStream{records: []compute.LogOutput{
		{Source: compute.Stdout, Message: "line one\n"},
		{Source: compute.Stdout, Message: "line two\n"},
		{Source: compute.Stderr, Message: "line three\n"},
	}}
	backend := &fakeBackend{stream: stream, status: compute.JobStatus{Phase: compute.PhaseSucceeded}}

	srv := httptest.NewServer(router(newTestHandler(backend)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/job-1/attach"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []compute.LogOutput
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		var out compute.LogOutput
		require.NoError(t, json.Unmarshal(data, &out))
		got = append(got, out)
	}

	require.Len(t, got, 3)
	require.Equal(t, "line one\n", got[0].Message)
	require.Equal(t, "line two\n", got[1].Message)
	require.Equal(t, "line three\n", got[2].Message)
}
