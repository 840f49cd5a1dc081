package sandbox

import (
	"context"

	"github.com/slok/runbox/internal/model"
)

//go:generate mockery --name Runtime --output sandboxmock --outpkg sandboxmock --structname MockRuntime

// Runtime is the container runtime control API consumed by the execution orchestrator.
// Implementations must be safe for concurrent use, a single instance is shared by all jobs.
type Runtime interface {
	// Check performs preflight checks and returns the results.
	Check(ctx context.Context) []model.CheckResult
	// Ping checks the runtime is reachable.
	Ping(ctx context.Context) error
	// EnsureImage makes sure the image is available, pulling it if pull is true.
	EnsureImage(ctx context.Context, image string, pull bool) error

	// Create creates the container and returns the runtime container ID.
	Create(ctx context.Context, spec model.ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	// Wait blocks until the container exits and returns its exit code. It returns the context
	// error when ctx ends first.
	Wait(ctx context.Context, id string) (int, error)
	// Logs returns the combined stdout and stderr of the container, truncated at maxBytes.
	Logs(ctx context.Context, id string, maxBytes int64) (output string, truncated bool, err error)
	// Stop kills the container. Stopping a stopped container is not an error.
	Stop(ctx context.Context, id string) error
	// Remove force removes the container. Removing a missing container returns model.ErrNotFound.
	Remove(ctx context.Context, id string) error

	// ListManaged lists all the containers created by runbox, running or not.
	ListManaged(ctx context.Context) ([]model.ContainerInfo, error)
}
