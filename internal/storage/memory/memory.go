package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.JobRepository.
type Repository struct {
	jobs   map[string]model.Job
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		jobs:   make(map[string]model.Job),
		logger: cfg.Logger,
	}, nil
}

// CreateJob registers a new job.
func (r *Repository) CreateJob(ctx context.Context, j model.Job) error {
	if j.ID == "" {
		return fmt.Errorf("job id is required: %w", model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("job with id %s: %w", j.ID, model.ErrAlreadyExists)
	}

	r.jobs[j.ID] = j.Copy()
	r.logger.Debugf("Created job in repository: %s", j.ID)

	return nil
}

// GetJob retrieves a job by ID.
func (r *Repository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	jobCopy := j.Copy()
	return &jobCopy, nil
}

// ListJobs returns all the jobs sorted by acceptance time.
func (r *Repository) ListJobs(ctx context.Context) ([]model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]model.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j.Copy())
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].AcceptedAt.Equal(jobs[j].AcceptedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].AcceptedAt.Before(jobs[j].AcceptedAt)
	})

	return jobs, nil
}

// UpdateJob updates an existing job.
func (r *Repository) UpdateJob(ctx context.Context, j model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.ID]; !ok {
		return fmt.Errorf("job %s: %w", j.ID, model.ErrNotFound)
	}

	r.jobs[j.ID] = j.Copy()
	r.logger.Debugf("Updated job %s in repository: %s", j.ID, j.State)

	return nil
}

// DeleteJob deletes a job.
func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	delete(r.jobs, id)
	r.logger.Debugf("Deleted job from repository: %s", id)

	return nil
}
