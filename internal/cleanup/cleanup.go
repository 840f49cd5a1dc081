package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/metrics"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/sandbox"
)

const DefaultTimeout = 30 * time.Second

// ManagerConfig is the configuration for the cleanup manager.
type ManagerConfig struct {
	Runtime sandbox.Runtime
	// StagingRoot is the only directory the manager is allowed to delete job directories from.
	StagingRoot string
	// Timeout bounds each cleanup, it's independent of the caller context cancellation.
	Timeout         time.Duration
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Runtime == nil {
		return fmt.Errorf("runtime is required")
	}
	if c.StagingRoot == "" {
		return fmt.Errorf("staging root is required")
	}
	root, err := filepath.Abs(c.StagingRoot)
	if err != nil {
		return fmt.Errorf("could not get staging root absolute path: %w", err)
	}
	c.StagingRoot = root
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "cleanup.Manager"})
	return nil
}

// Manager tears down everything a job created.
type Manager struct {
	runtime     sandbox.Runtime
	stagingRoot string
	timeout     time.Duration
	metrics     metrics.Recorder
	logger      log.Logger
}

// NewManager returns a new cleanup manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		runtime:     cfg.Runtime,
		stagingRoot: cfg.StagingRoot,
		timeout:     cfg.Timeout,
		metrics:     cfg.MetricsRecorder,
		logger:      cfg.Logger,
	}, nil
}

// Cleanup stops and removes the job container and deletes the job staging directory.
//
// It never fails, errors are logged and measured. It can be called any number of times and
// it runs even if ctx has already been cancelled.
func (m *Manager) Cleanup(ctx context.Context, job *model.Job) {
	if job == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	logger := m.logger.WithValues(log.Kv{"job": job.ID})

	// A container that failed mid creation may only be reachable by its name.
	container := job.ContainerID
	if container == "" {
		container = job.ContainerName
	}
	if container != "" {
		if err := m.removeContainer(ctx, container); err != nil {
			logger.Errorf("Could not remove container %s: %s", container, err)
			m.metrics.IncCleanupFailures(ctx, "container")
		}
	}

	if job.Staging != nil && job.Staging.Dir != "" {
		if err := m.removeStaging(job.Staging.Dir); err != nil {
			logger.Errorf("Could not remove staging directory %s: %s", job.Staging.Dir, err)
			m.metrics.IncCleanupFailures(ctx, "staging")
		}
	}
}

func (m *Manager) removeContainer(ctx context.Context, id string) error {
	err := m.runtime.Stop(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		// Force removal still kills the container, keep going.
		m.logger.Warningf("Could not stop container %s: %s", id, err)
	}

	err = m.runtime.Remove(ctx, id)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}

	return nil
}

func (m *Manager) removeStaging(dir string) error {
	rel, err := filepath.Rel(m.stagingRoot, dir)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return fmt.Errorf("directory %s is not inside the staging root %s: %w", dir, m.stagingRoot, model.ErrNotValid)
	}

	// RemoveAll ignores missing paths.
	err = os.RemoveAll(dir)
	if err == nil {
		return nil
	}

	// The executed code can leave directories without write or search permission.
	m.logger.Debugf("Could not remove %s, retrying with writable directories: %s", dir, err)
	makeDirsWritable(dir)
	return os.RemoveAll(dir)
}

// makeDirsWritable gives the owner full access to every directory under dir it can reach. Directories
// owned by other users are left as they are.
func makeDirsWritable(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if d != nil && d.IsDir() {
			// Chmod happens before WalkDir reads the directory.
			_ = os.Chmod(p, 0o700)
		}
		return nil
	})
}
