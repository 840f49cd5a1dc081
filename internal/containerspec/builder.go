package containerspec

import (
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"strings"

	"github.com/slok/runbox/internal/conventions"
	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
)

// BuilderConfig is the configuration for the container spec builder.
type BuilderConfig struct {
	Policy model.Policy
	Logger log.Logger
}

func (c *BuilderConfig) defaults() error {
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "containerspec.Builder"})
	return nil
}

// Builder translates execution requests into container specs following the execution policy.
type Builder struct {
	policy model.Policy
	logger log.Logger
}

// NewBuilder returns a new container spec builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Builder{
		policy: cfg.Policy,
		logger: cfg.Logger,
	}, nil
}

// Build returns the container spec for a job.
//
// Resources, user, image and network come from the policy only, nothing in the request
// can change them. The staging outputs dir is mounted writable as the work dir and every
// staged file is mounted read-only on top of it.
func (b *Builder) Build(jobID string, req model.ExecutionRequest, staging *model.Staging) (model.ContainerSpec, error) {
	if jobID == "" {
		return model.ContainerSpec{}, fmt.Errorf("job id is required: %w", model.ErrNotValid)
	}
	if staging == nil || staging.OutputsDir == "" {
		return model.ContainerSpec{}, fmt.Errorf("job staging is required: %w", model.ErrNotValid)
	}
	if !path.IsAbs(req.WorkDir) {
		return model.ContainerSpec{}, fmt.Errorf("work dir %q must be absolute: %w", req.WorkDir, model.ErrNotValid)
	}
	if !model.WorkDirAllowed(b.policy.Execution.WorkDirRoot, req.WorkDir) {
		return model.ContainerSpec{}, fmt.Errorf("work dir %q must be under %q: %w", req.WorkDir, b.policy.Execution.WorkDirRoot, model.ErrNotValid)
	}
	workDir := path.Clean(req.WorkDir)

	mounts := make([]model.Mount, 0, len(staging.Files)+1)
	mounts = append(mounts, model.Mount{Source: staging.OutputsDir, Target: workDir})
	for _, f := range staging.Files {
		if !isUnder(staging.InputsDir, f.Path) {
			return model.ContainerSpec{}, fmt.Errorf("staged file %q is outside the job inputs: %w", f.Path, model.ErrNotValid)
		}
		mounts = append(mounts, model.Mount{
			Source:   f.Path,
			Target:   path.Join(workDir, f.Name),
			ReadOnly: true,
		})
	}

	cmd := make([]string, 0, len(b.policy.Command)+1)
	cmd = append(cmd, b.policy.Command...)
	cmd = append(cmd, req.Code)

	spec := model.ContainerSpec{
		Name:       conventions.ContainerName(jobID),
		Image:      b.policy.Image,
		Cmd:        cmd,
		WorkingDir: workDir,
		User:       b.policy.User,
		Env:        maps.Clone(b.policy.Env),
		Labels: map[string]string{
			model.LabelManaged:    "true",
			model.LabelJobID:      jobID,
			model.LabelDisposable: "true",
		},
		MemoryBytes:     b.policy.Resources.MemoryBytes,
		NanoCPUs:        int64(b.policy.Resources.CPUs * 1e9),
		PidsLimit:       b.policy.Resources.PidsLimit,
		NetworkDisabled: true,
		Mounts:          mounts,
		SecurityOpts:    []string{"no-new-privileges"},
		CapDrop:         []string{"ALL"},
		Disposable:      true,
	}
	b.logger.Debugf("Built container spec %s with %d mounts", spec.Name, len(spec.Mounts))

	return spec, nil
}

func isUnder(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && filepath.IsLocal(rel)
}
