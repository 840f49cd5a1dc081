package reap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slok/runbox/internal/conventions"
	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/metrics"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/sandbox"
	"github.com/slok/runbox/internal/storage"
)

// DefaultMinAge is the minimum age of a container or staging directory before it can be reaped.
const DefaultMinAge = 10 * time.Minute

// SafeMinAge returns the minimum age that never reaps a job still alive under the policy. A job lives
// at most its max timeout followed by its cleanup.
func SafeMinAge(policy model.Policy) time.Duration {
	return max(DefaultMinAge, policy.Execution.MaxTimeout+policy.Execution.CleanupTimeout)
}

// ServiceConfig is the configuration for the reap service.
type ServiceConfig struct {
	Runtime sandbox.Runtime
	// Repository has the in flight jobs, their resources are never reaped.
	Repository  storage.JobRepository
	StagingRoot string
	// MinAge protects the resources of jobs not yet registered or owned by other processes.
	MinAge          time.Duration
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
	TimeNow         func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Runtime == nil {
		return fmt.Errorf("runtime is required")
	}

	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.StagingRoot == "" {
		return fmt.Errorf("staging root is required")
	}

	if c.MinAge <= 0 {
		c.MinAge = DefaultMinAge
	}

	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Reap"})

	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}

	return nil
}

// Service removes the execution resources left behind by crashed or killed processes.
type Service struct {
	runtime     sandbox.Runtime
	repo        storage.JobRepository
	stagingRoot string
	minAge      time.Duration
	metrics     metrics.Recorder
	logger      log.Logger
	timeNow     func() time.Time
}

// NewService creates a new reap service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		runtime:     cfg.Runtime,
		repo:        cfg.Repository,
		stagingRoot: cfg.StagingRoot,
		minAge:      cfg.MinAge,
		metrics:     cfg.MetricsRecorder,
		logger:      cfg.Logger,
		timeNow:     cfg.TimeNow,
	}, nil
}

// Report is the result of a reap run.
type Report struct {
	RemovedContainers []string
	RemovedDirs       []string
	// Failed has the resources that could not be removed.
	Failed []string
}

// Run removes every managed container and old staging directory that doesn't belong to an
// in flight job. Single resource failures don't stop the run, they are reported.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	jobs, err := s.repo.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list jobs: %w", err)
	}
	active := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		active[strings.ToLower(j.ID)] = true
	}

	containers, err := s.runtime.ListManaged(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list managed containers: %w", err)
	}

	now := s.timeNow()
	report := &Report{}
	for _, c := range containers {
		if c.JobID != "" && active[strings.ToLower(c.JobID)] {
			continue
		}
		// Other processes may own young containers.
		if !c.CreatedAt.IsZero() && now.Sub(c.CreatedAt) < s.minAge {
			continue
		}

		if err := s.removeContainer(ctx, c.ID); err != nil {
			s.logger.Warningf("Could not reap container %s: %s", c.ID, err)
			report.Failed = append(report.Failed, c.ID)
			continue
		}
		s.logger.Infof("Reaped container %s (%s) of job %s", c.ID, c.Name, c.JobID)
		report.RemovedContainers = append(report.RemovedContainers, c.ID)
	}
	s.metrics.IncReapedResources(ctx, "container", len(report.RemovedContainers))

	dirs, failed, err := s.reapStaging(active, now)
	if err != nil {
		return nil, err
	}
	report.RemovedDirs = dirs
	report.Failed = append(report.Failed, failed...)
	s.metrics.IncReapedResources(ctx, "staging", len(report.RemovedDirs))

	return report, nil
}

func (s *Service) removeContainer(ctx context.Context, id string) error {
	if err := s.runtime.Stop(ctx, id); err != nil && !errors.Is(err, model.ErrNotFound) {
		s.logger.Debugf("Could not stop container %s: %s", id, err)
	}

	err := s.runtime.Remove(ctx, id)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	return nil
}

func (s *Service) reapStaging(active map[string]bool, now time.Time) (removed, failed []string, err error) {
	entries, err := os.ReadDir(s.stagingRoot)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not read staging root: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), conventions.JobDirPrefix) {
			continue
		}
		if active[jobIDFromDir(e.Name())] {
			continue
		}

		info, err := e.Info()
		if err != nil {
			// Removed meanwhile.
			continue
		}
		if now.Sub(info.ModTime()) < s.minAge {
			continue
		}

		dir := filepath.Join(s.stagingRoot, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warningf("Could not reap staging directory %s: %s", dir, err)
			failed = append(failed, dir)
			continue
		}
		s.logger.Infof("Reaped staging directory %s", dir)
		removed = append(removed, dir)
	}

	return removed, failed, nil
}

// jobIDFromDir returns the lowercased job ID of a "job-<id>-<random>" directory name.
func jobIDFromDir(name string) string {
	id := strings.TrimPrefix(name, conventions.JobDirPrefix)
	if i := strings.LastIndex(id, "-"); i >= 0 {
		id = id[:i]
	}
	return id
}
