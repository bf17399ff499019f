// Package batch implements a remote compute.Backend backed by AWS
// Batch and CloudWatch Logs (spec §4.9's canonical remote backend).
// Construction follows the teacher's AWS SDK v2 idiom in
// internal/cache/s3.go (LoadDefaultConfig, functional client options,
// errors.As against smithy-go response-error types).
package batch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	batchsvc "github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/NicoZweifel/aquila/pkg/compute"
	"github.com/NicoZweifel/aquila/pkg/computeerr"
)

const (
	errorBudget      = 15
	describeRetry    = 2 * time.Second
	emptyPageRetry   = 2 * time.Second
	logGroupTemplate = "/aws/batch/job"
)

// Backend is a compute.Backend submitting to an AWS Batch job queue and
// attaching to its logs through CloudWatch Logs.
type Backend struct {
	batch    *batchsvc.Client
	logs     *cloudwatchlogs.Client
	logGroup string
}

// NewBackend resolves credentials and region via the standard AWS SDK
// default credential chain, mirroring the teacher's NewS3Store.
func NewBackend(ctx context.Context, logGroup string) (*Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, computeerr.Wrap(computeerr.System, "loading AWS config", err)
	}
	if logGroup == "" {
		logGroup = logGroupTemplate
	}
	return &Backend{
		batch:    batchsvc.NewFromConfig(cfg),
		logs:     cloudwatchlogs.NewFromConfig(cfg),
		logGroup: logGroup,
	}, nil
}

func (b *Backend) Run(ctx context.Context, req compute.JobRequest) (compute.JobResult, error) {
	env := make([]batchtypes.KeyValuePair, 0, len(req.Env))
	for _, e := range req.Env {
		env = append(env, batchtypes.KeyValuePair{Name: aws.String(e.Key), Value: aws.String(e.Value)})
	}

	override := &batchtypes.ContainerOverrides{
		Command:     req.Cmd,
		Environment: env,
	}
	if req.CPU != "" || req.Memory != "" || req.GPU != "" {
		override.ResourceRequirements = resourceRequirements(req)
	}

	out, err := b.batch.SubmitJob(ctx, &batchsvc.SubmitJobInput{
		JobName:            aws.String(jobName(req)),
		JobQueue:           aws.String(req.Queue),
		JobDefinition:      aws.String(req.Profile),
		ContainerOverrides: override,
	})
	if err != nil {
		return compute.JobResult{}, classifySubmitError(err)
	}

	return compute.JobResult{
		ID:     aws.ToString(out.JobId),
		Status: compute.JobStatus{Phase: compute.PhasePending},
	}, nil
}

func resourceRequirements(req compute.JobRequest) []batchtypes.ResourceRequirement {
	var reqs []batchtypes.ResourceRequirement
	if req.CPU != "" {
		reqs = append(reqs, batchtypes.ResourceRequirement{Type: batchtypes.ResourceTypeVcpu, Value: aws.String(req.CPU)})
	}
	if req.Memory != "" {
		reqs = append(reqs, batchtypes.ResourceRequirement{Type: batchtypes.ResourceTypeMemory, Value: aws.String(req.Memory)})
	}
	if req.GPU != "" {
		reqs = append(reqs, batchtypes.ResourceRequirement{Type: batchtypes.ResourceTypeGpu, Value: aws.String(req.GPU)})
	}
	return reqs
}

func jobName(req compute.JobRequest) string {
	if req.Profile != "" {
		return req.Profile
	}
	return "aquila-job"
}

// Status reports a job's current AWS Batch status (compute.StatusProvider).
func (b *Backend) Status(ctx context.Context, jobID string) (compute.JobStatus, error) {
	out, err := b.batch.DescribeJobs(ctx, &batchsvc.DescribeJobsInput{Jobs: []string{jobID}})
	if err != nil {
		return compute.JobStatus{}, computeerr.Wrap(computeerr.System, "describe job", err)
	}
	if len(out.Jobs) == 0 {
		return compute.JobStatus{}, computeerr.New(computeerr.NotFound, "job not found: "+jobID)
	}
	return compute.JobStatus{Phase: batchPhase(out.Jobs[0].Status), Message: aws.ToString(out.Jobs[0].StatusReason)}, nil
}

func batchPhase(status batchtypes.JobStatus) string {
	switch status {
	case batchtypes.JobStatusSucceeded:
		return compute.PhaseSucceeded
	case batchtypes.JobStatusFailed:
		return compute.PhaseFailed
	case batchtypes.JobStatusRunning:
		return compute.PhaseRunning
	default:
		return compute.PhasePending
	}
}

func (b *Backend) Attach(ctx context.Context, jobID string) (compute.LogStream, error) {
	return &logStream{
		backend: b,
		jobID:   jobID,
	}, nil
}

// logStream implements the per-attach state machine of spec §4.9: a
// tagged state (need-stream-name / paging / drained / terminal) plus a
// transient-error counter, instead of ad-hoc nested branches.
type logStream struct {
	backend *Backend

	logStreamName string
	nextToken     *string
	buffer        []compute.LogOutput
	finished      bool
	errorCount    int
}

func (s *logStream) Next(ctx context.Context) (compute.LogOutput, bool, error) {
	for {
		if ctx.Err() != nil {
			return compute.LogOutput{}, false, nil
		}

		if s.errorCount > errorBudget {
			s.finished = true
			s.errorCount = 0
			return compute.LogOutput{}, false, computeerr.New(computeerr.System, "log tail exceeded retry budget")
		}

		if len(s.buffer) > 0 {
			out := s.buffer[0]
			s.buffer = s.buffer[1:]
			return out, true, nil
		}

		if s.finished {
			return compute.LogOutput{}, false, nil
		}

		if s.logStreamName == "" {
			if err := s.discoverStream(ctx); err != nil {
				s.finished = true
				return compute.LogOutput{}, false, err
			}
			continue
		}

		if err := s.fetchPage(ctx); err != nil {
			s.finished = true
			return compute.LogOutput{}, false, err
		}
	}
}

// discoverStream implements step 4: describe the job, learn its log
// stream name and whether it has reached a terminal status.
func (s *logStream) discoverStream(ctx context.Context) error {
	out, err := s.backend.batch.DescribeJobs(ctx, &batchsvc.DescribeJobsInput{Jobs: []string{s.jobID}})
	if err != nil {
		wrapped := classifyServiceError("describe job", err)
		if computeerr.IsTransient(wrapped) {
			s.errorCount++
			sleep(ctx, describeRetry)
			return nil
		}
		return wrapped
	}

	s.errorCount = 0

	if len(out.Jobs) == 0 {
		return computeerr.New(computeerr.NotFound, "job not found: "+s.jobID)
	}

	job := out.Jobs[0]
	switch job.Status {
	case batchtypes.JobStatusSucceeded, batchtypes.JobStatusFailed:
		s.finished = true
	}
	if job.Container != nil && job.Container.LogStreamName != nil {
		s.logStreamName = aws.ToString(job.Container.LogStreamName)
	}

	if s.logStreamName == "" && !s.finished {
		sleep(ctx, describeRetry)
	}
	return nil
}

// fetchPage implements step 5/6: pull the next page of CloudWatch Logs
// events and enqueue them, or classify the fetch error per the retry
// predicate in spec §4.9 step 6.
func (s *logStream) fetchPage(ctx context.Context) error {
	input := &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(s.backend.logGroup),
		LogStreamName: aws.String(s.logStreamName),
		StartFromHead: aws.Bool(true),
	}
	if s.nextToken != nil {
		input.NextToken = s.nextToken
	}

	out, err := s.backend.logs.GetLogEvents(ctx, input)
	if err != nil {
		switch classifyFetchError(err) {
		case fetchTransient:
			s.errorCount++
			sleep(ctx, describeRetry)
			return nil
		case fetchFatal:
			return computeerr.Wrap(computeerr.InvalidRequest, "fetch job logs", err)
		default:
			wrapped := classifyServiceError("fetch job logs", err)
			if computeerr.IsTransient(wrapped) {
				s.errorCount++
				sleep(ctx, describeRetry)
				return nil
			}
			return wrapped
		}
	}

	s.errorCount = 0

	if len(out.Events) == 0 {
		if !s.finished {
			if status, err := s.backend.Status(ctx, s.jobID); err == nil &&
				(status.Phase == compute.PhaseSucceeded || status.Phase == compute.PhaseFailed) {
				s.finished = true
				return nil
			}
			sleep(ctx, emptyPageRetry)
		}
		return nil
	}

	if out.NextForwardToken != nil {
		s.nextToken = out.NextForwardToken
	}
	for _, event := range out.Events {
		s.buffer = append(s.buffer, compute.LogOutput{
			Source:    compute.Stdout,
			Timestamp: time.UnixMilli(aws.ToInt64(event.Timestamp)).UTC().Format(time.RFC3339),
			Message:   aws.ToString(event.Message) + "\n",
		})
	}
	return nil
}

func (s *logStream) Close() error { return nil }

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

type fetchClass int

const (
	fetchOK fetchClass = iota
	fetchTransient
	fetchFatal
	fetchUnclassified
)

func classifyFetchError(err error) fetchClass {
	var notFound *cwltypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fetchTransient
	}
	var invalidParam *cwltypes.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return fetchFatal
	}
	var serviceUnavailable *cwltypes.ServiceUnavailableException
	if errors.As(err, &serviceUnavailable) {
		return fetchTransient
	}

	var re *smithyhttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() >= http.StatusInternalServerError {
		return fetchTransient
	}
	return fetchUnclassified
}

// classifyServiceError maps a raw AWS Batch/CloudWatch Logs error to a
// computeerr.Error: a 4xx response other than 408 is the caller's fault
// and not retried; a 408, a 5xx, or a failure with no HTTP response is a
// system error, which computeerr.IsTransient lets the log-tail loop retry
// against the errorBudget (spec §4.9 step 6).
func classifyServiceError(op string, err error) *computeerr.Error {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		status := re.HTTPStatusCode()
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError && status != http.StatusRequestTimeout {
			return computeerr.Wrap(computeerr.InvalidRequest, op, err)
		}
	}
	return computeerr.Wrap(computeerr.System, op, err)
}

func classifySubmitError(err error) error {
	return classifyServiceError("submit job", err)
}
