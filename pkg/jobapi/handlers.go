// Package jobapi implements the job API (C8): job submission and the
// WebSocket log-attach multiplexer described in spec §4.7/§4.8.
package jobapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/NicoZweifel/aquila/pkg/apierr"
	"github.com/NicoZweifel/aquila/pkg/audit"
	"github.com/NicoZweifel/aquila/pkg/compute"
	"github.com/NicoZweifel/aquila/pkg/computeerr"
	"github.com/NicoZweifel/aquila/pkg/gateway"
	"github.com/NicoZweifel/aquila/pkg/storeerr"
	"github.com/NicoZweifel/aquila/pkg/webhook"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	Backend compute.Backend
	Webhook *webhook.Service
	Audit   *audit.Service
	Log     *logrus.Logger
}

func NewHandler(backend compute.Backend, hook *webhook.Service, aud *audit.Service, log *logrus.Logger) *Handler {
	return &Handler{Backend: backend, Webhook: hook, Audit: aud, Log: log}
}

func actorFrom(r *http.Request) string {
	if id, ok := gateway.IdentityFrom(r.Context()); ok {
		return id.ID
	}
	return "anonymous"
}

// Submit implements POST /jobs/run (spec §4.7).
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req compute.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(h.Log, w, r, storeerr.Wrap(storeerr.InvalidRequest, "invalid job request JSON", err))
		return
	}
	if len(req.Cmd) == 0 {
		apierr.Write(h.Log, w, r, computeerr.New(computeerr.InvalidRequest, "cmd must be non-empty"))
		return
	}

	result, err := h.Backend.Run(r.Context(), req)
	if err != nil {
		apierr.Write(h.Log, w, r, err)
		return
	}

	h.Audit.Log(actorFrom(r), "job.dispatch", result.ID, map[string]interface{}{"cmd": req.Cmd})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// Attach implements GET /jobs/{id}/attach (spec §4.8): after the
// WebSocket upgrade succeeds, it opens a lazy log sequence from the
// compute port and runs the two-source multiplexing loop until either
// source signals the loop should end.
func (h *Handler) Attach(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	stream, err := h.Backend.Attach(r.Context(), jobID)
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, []byte(err.Error()))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}
	defer stream.Close()

	h.multiplex(r.Context(), conn, stream)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	h.notifyCompletion(r, jobID)
}

// multiplex is Source A (log records) and Source B (inbound client
// frames) from spec §4.8, run as a reader goroutine plus a writer loop
// on the calling goroutine; it returns once either source says to stop.
func (h *Handler) multiplex(ctx context.Context, conn *websocket.Conn, stream compute.LogStream) {
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-clientGone
		cancel()
	}()

	for {
		out, ok, err := stream.Next(streamCtx)
		if err != nil {
			conn.WriteMessage(websocket.TextMessage, []byte(err.Error()))
			continue
		}
		if !ok {
			return
		}

		select {
		case <-clientGone:
			return
		default:
		}

		payload, err := json.Marshal(out)
		if err != nil {
			conn.WriteMessage(websocket.TextMessage, []byte("encode error: "+err.Error()))
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			return
		}
	}
}

// notifyCompletion fires the job-completion webhook when the backend
// can report a terminal status for jobID (spec §6.3).
func (h *Handler) notifyCompletion(r *http.Request, jobID string) {
	provider, ok := h.Backend.(compute.StatusProvider)
	if !ok {
		return
	}
	status, err := provider.Status(r.Context(), jobID)
	if err != nil {
		return
	}

	action := ""
	switch status.Phase {
	case compute.PhaseSucceeded:
		action = "job.succeeded"
	case compute.PhaseFailed:
		action = "job.failed"
	default:
		return
	}
	h.Webhook.Notify(r.Context(), webhook.Event{
		Action:    action,
		Subject:   jobID,
		Actor:     actorFrom(r),
		Timestamp: time.Now(),
	})
}
