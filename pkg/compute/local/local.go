// Package local implements a development/test compute.Backend (spec
// §6.3): jobs are queued on Redis, a worker goroutine runs them via
// os/exec, and their stdout/stderr lines are pushed onto a per-job
// Redis list that Attach pages through in order. Grounded on the
// teacher's pkg/queue/service.go (RPush/BLPop job queue) and the
// background scan-worker loop in the teacher's main.go.
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/NicoZweifel/aquila/pkg/compute"
	"github.com/NicoZweifel/aquila/pkg/computeerr"
)

const (
	queueKey     = "aquila:jobs:queue"
	logKeyPrefix = "aquila:jobs:log:"
	statusPrefix = "aquila:jobs:status:"
	keyTTL       = time.Hour
	pollTimeout  = 2 * time.Second
)

type queuedJob struct {
	ID      string            `json:"id"`
	Request compute.JobRequest `json:"request"`
}

// Backend is a Redis-backed local compute.Backend.
type Backend struct {
	redis *redis.Client
	log   *logrus.Logger
}

func NewBackend(rdb *redis.Client, log *logrus.Logger) *Backend {
	return &Backend{redis: rdb, log: log}
}

func (b *Backend) Run(ctx context.Context, req compute.JobRequest) (compute.JobResult, error) {
	id := uuid.New().String()
	job := queuedJob{ID: id, Request: req}

	payload, err := json.Marshal(job)
	if err != nil {
		return compute.JobResult{}, computeerr.Wrap(computeerr.System, "marshal job", err)
	}

	if err := b.redis.Set(ctx, statusPrefix+id, compute.PhasePending, keyTTL).Err(); err != nil {
		return compute.JobResult{}, computeerr.Wrap(computeerr.System, "set job status", err)
	}
	if err := b.redis.RPush(ctx, queueKey, payload).Err(); err != nil {
		return compute.JobResult{}, computeerr.Wrap(computeerr.System, "enqueue job", err)
	}

	return compute.JobResult{ID: id, Status: compute.JobStatus{Phase: compute.PhasePending}}, nil
}

// Attach opens a lazy log sequence for jobID (spec §4.8).
func (b *Backend) Attach(ctx context.Context, jobID string) (compute.LogStream, error) {
	n, err := b.redis.Exists(ctx, statusPrefix+jobID).Result()
	if err != nil {
		return nil, computeerr.Wrap(computeerr.System, "check job status", err)
	}
	if n == 0 {
		return nil, computeerr.New(computeerr.NotFound, "job not found: "+jobID)
	}
	return &logStream{redis: b.redis, jobID: jobID}, nil
}

// Status reports a job's last known phase (compute.StatusProvider).
func (b *Backend) Status(ctx context.Context, jobID string) (compute.JobStatus, error) {
	raw, err := b.redis.Get(ctx, statusPrefix+jobID).Result()
	if err == redis.Nil {
		return compute.JobStatus{}, computeerr.New(computeerr.NotFound, "job not found: "+jobID)
	}
	if err != nil {
		return compute.JobStatus{}, computeerr.Wrap(computeerr.System, "read job status", err)
	}

	if raw == compute.PhasePending || raw == compute.PhaseRunning {
		return compute.JobStatus{Phase: raw}, nil
	}
	var status compute.JobStatus
	if jsonErr := json.Unmarshal([]byte(raw), &status); jsonErr != nil {
		return compute.JobStatus{}, computeerr.Wrap(computeerr.System, "parse job status", jsonErr)
	}
	return status, nil
}

// RunWorker consumes the job queue forever, running each job and
// streaming its output. It is meant to run as a background goroutine
// (mirrors the teacher's main.go scan-worker loop), one per process, or
// more for horizontal scale since BLPop fairly distributes work.
func (b *Backend) RunWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := b.redis.BLPop(ctx, 0, queueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.WithError(err).Warn("local compute worker: queue pop failed")
			time.Sleep(2 * time.Second)
			continue
		}

		var job queuedJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			b.log.WithError(err).Warn("local compute worker: malformed job payload")
			continue
		}

		b.runJob(ctx, job)
	}
}

func (b *Backend) runJob(ctx context.Context, job queuedJob) {
	logKey := logKeyPrefix + job.ID
	b.redis.Set(ctx, statusPrefix+job.ID, compute.PhaseRunning, keyTTL)

	if len(job.Request.Cmd) == 0 {
		b.finish(ctx, job.ID, compute.PhaseFailed, "empty command")
		return
	}

	cmd := exec.CommandContext(ctx, job.Request.Cmd[0], job.Request.Cmd[1:]...)
	for _, e := range job.Request.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", e.Key, e.Value))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.finish(ctx, job.ID, compute.PhaseFailed, err.Error())
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		b.finish(ctx, job.ID, compute.PhaseFailed, err.Error())
		return
	}

	if err := cmd.Start(); err != nil {
		b.finish(ctx, job.ID, compute.PhaseFailed, err.Error())
		return
	}

	done := make(chan struct{}, 2)
	go b.pump(ctx, logKey, compute.Stdout, stdout, done)
	go b.pump(ctx, logKey, compute.Stderr, stderr, done)
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		b.finish(ctx, job.ID, compute.PhaseFailed, err.Error())
		return
	}
	b.finish(ctx, job.ID, compute.PhaseSucceeded, "")
}

func (b *Backend) pump(ctx context.Context, logKey string, source compute.LogSource, r interface{ Read([]byte) (int, error) }, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out := compute.LogOutput{
			Source:    source,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Message:   scanner.Text() + "\n",
		}
		payload, err := json.Marshal(out)
		if err != nil {
			continue
		}
		b.redis.RPush(ctx, logKey, payload)
	}
}

func (b *Backend) finish(ctx context.Context, jobID, phase, message string) {
	status := compute.JobStatus{Phase: phase, Message: message}
	payload, _ := json.Marshal(status)
	b.redis.Set(ctx, statusPrefix+jobID, string(payload), keyTTL)
}

// logStream pages through a job's Redis-backed log list in order,
// stopping once the job has reached a terminal status and the list is
// drained (spec §4.8's "on stream end, exit the loop").
type logStream struct {
	redis *redis.Client
	jobID string
}

func (s *logStream) Next(ctx context.Context) (compute.LogOutput, bool, error) {
	for {
		result, err := s.redis.BLPop(ctx, pollTimeout, logKeyPrefix+s.jobID).Result()
		if err == nil {
			var out compute.LogOutput
			if jsonErr := json.Unmarshal([]byte(result[1]), &out); jsonErr != nil {
				return compute.LogOutput{}, true, nil
			}
			return out, true, nil
		}
		if err != redis.Nil {
			if ctx.Err() != nil {
				return compute.LogOutput{}, false, nil
			}
			return compute.LogOutput{}, false, computeerr.Wrap(computeerr.System, "poll job log", err)
		}

		terminal, err := s.isTerminal(ctx)
		if err != nil {
			return compute.LogOutput{}, false, err
		}
		if terminal {
			return compute.LogOutput{}, false, nil
		}
		if ctx.Err() != nil {
			return compute.LogOutput{}, false, nil
		}
	}
}

func (s *logStream) isTerminal(ctx context.Context) (bool, error) {
	raw, err := s.redis.Get(ctx, statusPrefix+s.jobID).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, computeerr.Wrap(computeerr.System, "read job status", err)
	}

	if raw == compute.PhasePending || raw == compute.PhaseRunning {
		return false, nil
	}
	var status compute.JobStatus
	if jsonErr := json.Unmarshal([]byte(raw), &status); jsonErr == nil {
		return status.Phase == compute.PhaseSucceeded || status.Phase == compute.PhaseFailed, nil
	}
	return true, nil
}

func (s *logStream) Close() error { return nil }
