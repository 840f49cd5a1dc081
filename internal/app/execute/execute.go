package execute

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/metrics"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/sandbox"
	"github.com/slok/runbox/internal/stage"
	"github.com/slok/runbox/internal/storage"
	"github.com/slok/runbox/internal/storage/memory"
)

// logsTimeout bounds the log read after the container is gone or the job deadline passed.
const logsTimeout = 10 * time.Second

// Stager stages the job ref files.
type Stager interface {
	Stage(ctx context.Context, jobID string, refs []model.RefFile) (*model.Staging, error)
}

// SpecBuilder builds the job container spec.
type SpecBuilder interface {
	Build(jobID string, req model.ExecutionRequest, staging *model.Staging) (model.ContainerSpec, error)
}

// Cleaner tears down the job resources, it must never fail and be idempotent.
type Cleaner interface {
	Cleanup(ctx context.Context, job *model.Job)
}

// ArtifactCollector collects the files generated by the job.
type ArtifactCollector interface {
	Collect(dir string, skip []string) ([]model.Artifact, error)
}

// ServiceConfig is the configuration for the execute service.
type ServiceConfig struct {
	Runtime     sandbox.Runtime
	Stager      Stager
	SpecBuilder SpecBuilder
	Cleaner     Cleaner
	// ArtifactCollector is optional, when missing no artifacts are collected.
	ArtifactCollector ArtifactCollector
	Repository        storage.JobRepository
	Policy            model.Policy
	MetricsRecorder   metrics.Recorder
	IDGenerator       func() string
	Logger            log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Runtime == nil {
		return fmt.Errorf("runtime is required")
	}
	if c.Stager == nil {
		return fmt.Errorf("stager is required")
	}
	if c.SpecBuilder == nil {
		return fmt.Errorf("spec builder is required")
	}
	if c.Cleaner == nil {
		return fmt.Errorf("cleaner is required")
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Execute"})
	if c.Repository == nil {
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create job repository: %w", err)
		}
		c.Repository = repo
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.IDGenerator == nil {
		c.IDGenerator = func() string {
			return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
		}
	}
	return nil
}

// Service runs untrusted code in single use containers.
type Service struct {
	runtime   sandbox.Runtime
	stager    Stager
	builder   SpecBuilder
	cleaner   Cleaner
	collector ArtifactCollector
	repo      storage.JobRepository
	policy    model.Policy
	metrics   metrics.Recorder
	newID     func() string
	logger    log.Logger
}

// NewService creates a new execute service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		runtime:   cfg.Runtime,
		stager:    cfg.Stager,
		builder:   cfg.SpecBuilder,
		cleaner:   cfg.Cleaner,
		collector: cfg.ArtifactCollector,
		repo:      cfg.Repository,
		policy:    cfg.Policy,
		metrics:   cfg.MetricsRecorder,
		newID:     cfg.IDGenerator,
		logger:    cfg.Logger,
	}, nil
}

// Execute runs the request code in a new container and returns the outcome.
//
// The request timeout bounds staging and execution combined. Whatever happens, the container
// and the staged files are removed before returning, even if ctx is cancelled.
//
// The result is never nil. Outcomes caused by the submitted code or its inputs (exit codes,
// timeouts, download failures) are returned only in the result. Validation, infrastructure and
// internal failures also return the result error as a *model.ExecutionError.
func (s *Service) Execute(ctx context.Context, req model.ExecutionRequest) (result *model.ExecutionResult, err error) {
	acceptedAt := time.Now()

	req = s.withDefaults(req)
	if err := s.validate(req); err != nil {
		execErr := model.NewExecutionError(model.ErrorKindValidation, err)
		return &model.ExecutionResult{Error: execErr}, execErr
	}

	job := model.NewJob(s.newID(), req, acceptedAt)
	logger := s.logger.WithCtxValues(ctx).WithValues(log.Kv{"job": job.ID})
	if err := s.repo.CreateJob(ctx, *job); err != nil {
		execErr := model.NewExecutionError(model.ErrorKindInternal, fmt.Errorf("could not register job: %w", err))
		return &model.ExecutionResult{JobID: job.ID, Error: execErr}, execErr
	}
	s.metrics.AddInflightJobs(ctx, 1)
	logger.Debugf("Job accepted with %s timeout and %d ref files", req.Timeout, len(req.RefFiles))

	jobCtx, cancel := context.WithDeadline(ctx, job.Deadline)
	defer cancel()

	// Single release point for every exit path, including panics.
	defer func() {
		s.release(ctx, job, logger)
		s.metrics.AddInflightJobs(ctx, -1)
		if result == nil {
			return
		}
		result.Duration = time.Since(acceptedAt)
		s.metrics.MeasureJobDuration(ctx, string(result.State), errorKind(result.Error), result.Duration)
		logger.Infof("Job finished as %s in %s", result.State, result.Duration)
	}()

	result = s.run(ctx, jobCtx, job, logger)
	result.JobID = job.ID
	result.State = job.State
	job.Result = result
	if result.Error != nil && result.Error.ServiceFailure() {
		return result, result.Error
	}

	return result, nil
}

func (s *Service) withDefaults(req model.ExecutionRequest) model.ExecutionRequest {
	if req.Timeout == 0 {
		req.Timeout = s.policy.Execution.DefaultTimeout
	}
	if req.WorkDir == "" {
		req.WorkDir = s.policy.Execution.DefaultWorkDir
	}
	req.Defaults()
	return req
}

func (s *Service) validate(req model.ExecutionRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Timeout > s.policy.Execution.MaxTimeout {
		return fmt.Errorf("timeout %s is above the maximum of %s: %w", req.Timeout, s.policy.Execution.MaxTimeout, model.ErrNotValid)
	}
	if !model.WorkDirAllowed(s.policy.Execution.WorkDirRoot, req.WorkDir) {
		return fmt.Errorf("work dir %q must be under %q: %w", req.WorkDir, s.policy.Execution.WorkDirRoot, model.ErrNotValid)
	}
	return nil
}

// run moves the job until a terminal state. ctx is the caller context and jobCtx the
// one bound to the job deadline.
func (s *Service) run(ctx, jobCtx context.Context, job *model.Job, logger log.Logger) *model.ExecutionResult {
	// Staging.
	if err := s.transition(ctx, job, model.JobStateStaging); err != nil {
		return s.fail(ctx, job, model.ErrorKindInternal, err)
	}
	stagingStart := time.Now()
	staging, err := s.stager.Stage(jobCtx, job.ID, job.Request.RefFiles)
	if err != nil {
		s.metrics.MeasureStagingDuration(ctx, false, 0, 0, time.Since(stagingStart))
		if ctx.Err() != nil {
			return s.fail(ctx, job, model.ErrorKindInternal, fmt.Errorf("execution cancelled while staging: %w", ctx.Err()))
		}
		execErr := model.NewExecutionError(model.ErrorKindDownload, err)
		var derr *stage.DownloadError
		if errors.As(err, &derr) {
			execErr.URL = derr.URL
		}
		return s.failWith(ctx, job, execErr)
	}
	job.Staging = staging
	s.metrics.MeasureStagingDuration(ctx, true, len(staging.Files), stagedBytes(staging), time.Since(stagingStart))

	// Container spec.
	spec, err := s.builder.Build(job.ID, job.Request, staging)
	if err != nil {
		return s.fail(ctx, job, model.ErrorKindInternal, fmt.Errorf("could not build container spec: %w", err))
	}
	job.Spec = &spec
	job.ContainerName = spec.Name
	if err := s.transition(ctx, job, model.JobStateSpecBuilt); err != nil {
		return s.fail(ctx, job, model.ErrorKindInternal, err)
	}

	// Container creation.
	if err := s.transition(ctx, job, model.JobStateContainerStarting); err != nil {
		return s.fail(ctx, job, model.ErrorKindInternal, err)
	}
	containerID, err := s.runtime.Create(jobCtx, spec)
	if err != nil {
		return s.failStarting(ctx, jobCtx, job, fmt.Errorf("could not create container: %w", err))
	}
	job.ContainerID = containerID
	if err := s.runtime.Start(jobCtx, containerID); err != nil {
		return s.failStarting(ctx, jobCtx, job, fmt.Errorf("could not start container: %w", err))
	}
	if err := s.transition(ctx, job, model.JobStateRunning); err != nil {
		return s.fail(ctx, job, model.ErrorKindInternal, err)
	}
	logger.Debugf("Container %s running", containerID)

	// Execution.
	exitCode, err := s.runtime.Wait(jobCtx, containerID)
	switch {
	case err == nil:
		return s.complete(ctx, job, exitCode, logger)
	case ctx.Err() != nil:
		return s.fail(ctx, job, model.ErrorKindInternal, fmt.Errorf("execution cancelled: %w", ctx.Err()))
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return s.timeout(ctx, job, logger)
	default:
		return s.fail(ctx, job, model.ErrorKindInfrastructure, fmt.Errorf("could not wait for container: %w", err))
	}
}

func (s *Service) complete(ctx context.Context, job *model.Job, exitCode int, logger log.Logger) *model.ExecutionResult {
	output, truncated := s.readLogs(ctx, job.ContainerID, logger)

	result := &model.ExecutionResult{
		Success:         exitCode == 0,
		Output:          output,
		OutputTruncated: truncated,
		ExitCode:        &exitCode,
		ContainerID:     job.ContainerID,
	}
	if s.collector != nil && s.policy.Artifacts.Enabled && job.Staging != nil {
		staged := make([]string, 0, len(job.Staging.Files))
		for _, f := range job.Staging.Files {
			staged = append(staged, f.Name)
		}
		artifacts, err := s.collector.Collect(job.Staging.OutputsDir, staged)
		if err != nil {
			logger.Warningf("Could not collect artifacts: %s", err)
		}
		result.Artifacts = artifacts
	}

	if err := s.transition(ctx, job, model.JobStateCompleted); err != nil {
		return s.fail(ctx, job, model.ErrorKindInternal, err)
	}
	return result
}

func (s *Service) timeout(ctx context.Context, job *model.Job, logger log.Logger) *model.ExecutionResult {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logsTimeout)
	defer cancel()
	if err := s.runtime.Stop(stopCtx, job.ContainerID); err != nil {
		logger.Warningf("Could not stop timed out container %s: %s", job.ContainerID, err)
	}
	output, truncated := s.readLogs(ctx, job.ContainerID, logger)

	if err := s.transition(ctx, job, model.JobStateTimedOut); err != nil {
		return s.fail(ctx, job, model.ErrorKindInternal, err)
	}
	return &model.ExecutionResult{
		Output:          output,
		OutputTruncated: truncated,
		ContainerID:     job.ContainerID,
		Error:           model.NewExecutionError(model.ErrorKindTimeout, fmt.Errorf("execution exceeded the %s timeout", job.Request.Timeout)),
	}
}

// failStarting classifies a container create or start failure.
func (s *Service) failStarting(ctx, jobCtx context.Context, job *model.Job, err error) *model.ExecutionResult {
	switch {
	case ctx.Err() != nil:
		return s.fail(ctx, job, model.ErrorKindInternal, fmt.Errorf("execution cancelled: %w", err))
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return s.fail(ctx, job, model.ErrorKindTimeout, fmt.Errorf("execution exceeded the %s timeout before the container started: %w", job.Request.Timeout, err))
	default:
		return s.fail(ctx, job, model.ErrorKindInfrastructure, err)
	}
}

func (s *Service) fail(ctx context.Context, job *model.Job, kind model.ErrorKind, err error) *model.ExecutionResult {
	return s.failWith(ctx, job, model.NewExecutionError(kind, err))
}

func (s *Service) failWith(ctx context.Context, job *model.Job, execErr *model.ExecutionError) *model.ExecutionResult {
	if err := s.transition(ctx, job, model.JobStateFailed); err != nil {
		s.logger.Errorf("Forcing job %s to failed: %s", job.ID, err)
		job.State = model.JobStateFailed
		job.History = append(job.History, model.JobStateFailed)
	}

	return &model.ExecutionResult{
		ContainerID: job.ContainerID,
		Error:       execErr,
	}
}

// release tears down the job resources and forgets it.
func (s *Service) release(ctx context.Context, job *model.Job, logger log.Logger) {
	ctx = context.WithoutCancel(ctx)

	if err := s.transition(ctx, job, model.JobStateCleaningUp); err != nil {
		logger.Errorf("Could not move job to cleanup: %s", err)
	}
	s.cleaner.Cleanup(ctx, job)
	if err := s.transition(ctx, job, model.JobStateDone); err != nil {
		logger.Errorf("Could not move job to done: %s", err)
	}

	if err := s.repo.DeleteJob(ctx, job.ID); err != nil {
		logger.Warningf("Could not delete job from repository: %s", err)
	}
}

func (s *Service) transition(ctx context.Context, job *model.Job, to model.JobState) error {
	if err := job.Transition(to); err != nil {
		return err
	}
	if err := s.repo.UpdateJob(context.WithoutCancel(ctx), *job); err != nil {
		s.logger.Warningf("Could not update job %s state in repository: %s", job.ID, err)
	}
	return nil
}

func (s *Service) readLogs(ctx context.Context, containerID string, logger log.Logger) (string, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logsTimeout)
	defer cancel()

	output, truncated, err := s.runtime.Logs(ctx, containerID, s.policy.Execution.MaxOutputBytes)
	if err != nil {
		logger.Warningf("Could not read container %s logs: %s", containerID, err)
	}
	return output, truncated
}

func stagedBytes(staging *model.Staging) int64 {
	var total int64
	for _, f := range staging.Files {
		total += f.Size
	}
	return total
}

func errorKind(err *model.ExecutionError) string {
	if err == nil {
		return ""
	}
	return string(err.Kind)
}
