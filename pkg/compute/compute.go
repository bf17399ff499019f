// Package compute defines the compute port (C3): job submission and
// lazy log-stream attach, plus the wire types shared by both (spec §3,
// §4.7, §4.8).
package compute

import "context"

// JobStatus is the lifecycle state of a job handle (spec §3).
type JobStatus struct {
	Phase   string `json:"phase"` // Pending, Running, Succeeded, Failed
	Message string `json:"message,omitempty"`
}

const (
	PhasePending   = "Pending"
	PhaseRunning   = "Running"
	PhaseSucceeded = "Succeeded"
	PhaseFailed    = "Failed"
)

// EnvVar is one k/v pair of a job's environment (spec §4.7).
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// JobRequest is the body of POST /jobs/run (spec §4.7).
type JobRequest struct {
	Image   string   `json:"img,omitempty"`
	Profile string   `json:"profile,omitempty"`
	Queue   string   `json:"queue,omitempty"`
	Cmd     []string `json:"cmd"`
	Env     []EnvVar `json:"env,omitempty"`
	CPU     string   `json:"cpu,omitempty"`
	Memory  string   `json:"memory,omitempty"`
	GPU     string   `json:"gpu,omitempty"`
	Remove  bool     `json:"remove"`
}

// JobResult is returned by submit (spec §4.7).
type JobResult struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// LogSource distinguishes which stream a log record came from (spec §3).
type LogSource string

const (
	Stdout  LogSource = "stdout"
	Stderr  LogSource = "stderr"
	Console LogSource = "console"
)

// LogOutput is one log record (spec §3, §4.8). Err is not serialized and
// the backends in this module never set it; tailing errors reach the
// attach handler as the error return of LogStream.Next, which it sends
// as a text-frame diagnostic.
type LogOutput struct {
	Source    LogSource `json:"source,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	Message   string    `json:"message,omitempty"`
	Err       string    `json:"-"`
}

// LogStream is a lazy, restartable-internally, infinite-until-terminal
// ordered sequence of log records (spec §4.9). Next blocks until a
// record is available, an error occurs, or the stream has ended
// (io.EOF-style: ok=false with err=nil signals end).
type LogStream interface {
	Next(ctx context.Context) (out LogOutput, ok bool, err error)
	Close() error
}

// Backend abstracts a container-style compute engine: submitting jobs
// and attaching to their log output (spec §4.7, §4.8, §4.9).
type Backend interface {
	Run(ctx context.Context, req JobRequest) (JobResult, error)
	Attach(ctx context.Context, jobID string) (LogStream, error)
}

// StatusProvider is optionally implemented by a Backend to report a
// job's current lifecycle phase independent of its log stream. The job
// API uses it after an attach session ends to decide whether to fire
// the completion webhook (spec §6.3).
type StatusProvider interface {
	Status(ctx context.Context, jobID string) (JobStatus, error)
}
