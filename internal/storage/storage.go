package storage

import (
	"context"

	"github.com/slok/runbox/internal/model"
)

//go:generate mockery --name JobRepository --output storagemock --outpkg storagemock --structname MockJobRepository

// JobRepository is the registry of the in flight execution jobs.
// Jobs are only tracked while they are being handled, nothing outlives the process.
type JobRepository interface {
	CreateJob(ctx context.Context, j model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context) ([]model.Job, error)
	UpdateJob(ctx context.Context, j model.Job) error
	DeleteJob(ctx context.Context, id string) error
}
