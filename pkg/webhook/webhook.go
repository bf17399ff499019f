// Package webhook fires best-effort HTTP notifications for manifest
// publishes and job completions, adapted from the teacher's
// pkg/webhook/service.go almost unchanged.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type Event struct {
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

type Service struct {
	url string
	log *logrus.Logger
	cl  *http.Client
}

func NewService(url string, log *logrus.Logger) *Service {
	return &Service{url: url, log: log, cl: &http.Client{Timeout: 5 * time.Second}}
}

// Notify sends event to the configured webhook URL, if any. Delivery
// failures are logged and never surfaced to the caller (spec §6.3).
func (s *Service) Notify(ctx context.Context, event Event) {
	if s.url == "" {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.log.WithError(err).Warn("failed to marshal webhook event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		s.log.WithError(err).Warn("failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cl.Do(req)
	if err != nil {
		s.log.WithError(err).Warn("failed to deliver webhook")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.log.WithField("status", resp.StatusCode).Warn(fmt.Sprintf("webhook endpoint rejected %s event", event.Action))
	}
}
