package io

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/slok/runbox/internal/model"
)

// PolicyYAMLRepository loads the execution policy from YAML files.
type PolicyYAMLRepository struct {
	fs fs.FS
}

// NewPolicyYAMLRepository creates a new YAML policy repository.
func NewPolicyYAMLRepository(filesystem fs.FS) *PolicyYAMLRepository {
	return &PolicyYAMLRepository{fs: filesystem}
}

// GetPolicy loads the policy from a YAML file and returns a validated domain model. Every
// field missing in the file keeps its default value.
func (r *PolicyYAMLRepository) GetPolicy(ctx context.Context, path string) (model.Policy, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.Policy{}, fmt.Errorf("reading policy file: %w", err)
	}

	if ctx.Err() != nil {
		return model.Policy{}, ctx.Err()
	}

	var cfg PolicyConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return model.Policy{}, fmt.Errorf("parsing YAML: %w", err)
	}

	policy, err := cfg.toModel()
	if err != nil {
		return model.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return model.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}

	return policy, nil
}

// PolicyConfig represents the YAML structure of the execution policy.
type PolicyConfig struct {
	Image     string            `yaml:"image"`
	PullImage *bool             `yaml:"pull_image"`
	Command   []string          `yaml:"command"`
	User      string            `yaml:"user"`
	Env       map[string]string `yaml:"env"`
	Resources ResourcesConfig   `yaml:"resources"`
	Staging   StagingConfig     `yaml:"staging"`
	Execution ExecutionConfig   `yaml:"execution"`
	Artifacts ArtifactsConfig   `yaml:"artifacts"`
}

// ResourcesConfig represents the YAML structure for the container resources.
type ResourcesConfig struct {
	// Memory is a size like "128m" or "1g".
	Memory string  `yaml:"memory"`
	CPUs   float64 `yaml:"cpus"`
	Pids   int64   `yaml:"pids"`
}

// StagingConfig represents the YAML structure for the ref files staging.
type StagingConfig struct {
	Root         string `yaml:"root"`
	MaxFileSize  string `yaml:"max_file_size"`
	MaxTotalSize string `yaml:"max_total_size"`
	Concurrency  int    `yaml:"concurrency"`
}

// ExecutionConfig represents the YAML structure for the request execution settings.
type ExecutionConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	DefaultWorkDir string        `yaml:"default_work_dir"`
	WorkDirRoot    string        `yaml:"work_dir_root"`
	MaxOutputSize  string        `yaml:"max_output_size"`
	CleanupTimeout time.Duration `yaml:"cleanup_timeout"`
}

// ArtifactsConfig represents the YAML structure for the generated files collection.
type ArtifactsConfig struct {
	Enabled    *bool    `yaml:"enabled"`
	Extensions []string `yaml:"extensions"`
	MaxSize    string   `yaml:"max_size"`
}

func (c PolicyConfig) toModel() (model.Policy, error) {
	p := model.DefaultPolicy()

	if c.Image != "" {
		p.Image = c.Image
	}
	if c.PullImage != nil {
		p.PullImage = *c.PullImage
	}
	if len(c.Command) > 0 {
		p.Command = c.Command
	}
	if c.User != "" {
		p.User = c.User
	}
	if c.Env != nil {
		p.Env = c.Env
	}

	if err := setSize(&p.Resources.MemoryBytes, c.Resources.Memory, "resources.memory"); err != nil {
		return p, err
	}
	if c.Resources.CPUs != 0 {
		p.Resources.CPUs = c.Resources.CPUs
	}
	if c.Resources.Pids != 0 {
		p.Resources.PidsLimit = c.Resources.Pids
	}

	if c.Staging.Root != "" {
		p.Staging.Root = c.Staging.Root
	}
	if err := setSize(&p.Staging.MaxFileBytes, c.Staging.MaxFileSize, "staging.max_file_size"); err != nil {
		return p, err
	}
	if err := setSize(&p.Staging.MaxTotalSize, c.Staging.MaxTotalSize, "staging.max_total_size"); err != nil {
		return p, err
	}
	if c.Staging.Concurrency != 0 {
		p.Staging.Concurrency = c.Staging.Concurrency
	}

	if c.Execution.DefaultTimeout != 0 {
		p.Execution.DefaultTimeout = c.Execution.DefaultTimeout
	}
	if c.Execution.MaxTimeout != 0 {
		p.Execution.MaxTimeout = c.Execution.MaxTimeout
	}
	if c.Execution.DefaultWorkDir != "" {
		p.Execution.DefaultWorkDir = c.Execution.DefaultWorkDir
	}
	if c.Execution.WorkDirRoot != "" {
		p.Execution.WorkDirRoot = c.Execution.WorkDirRoot
	}
	if err := setSize(&p.Execution.MaxOutputBytes, c.Execution.MaxOutputSize, "execution.max_output_size"); err != nil {
		return p, err
	}
	if c.Execution.CleanupTimeout != 0 {
		p.Execution.CleanupTimeout = c.Execution.CleanupTimeout
	}

	if c.Artifacts.Enabled != nil {
		p.Artifacts.Enabled = *c.Artifacts.Enabled
	}
	if len(c.Artifacts.Extensions) > 0 {
		p.Artifacts.Extensions = c.Artifacts.Extensions
	}
	if err := setSize(&p.Artifacts.MaxBytes, c.Artifacts.MaxSize, "artifacts.max_size"); err != nil {
		return p, err
	}

	return p, nil
}

// setSize parses human sizes ("128m", "100MB", "1GiB") as binary units.
func setSize(dst *int64, value, field string) error {
	if value == "" {
		return nil
	}
	n, err := units.RAMInBytes(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = n
	return nil
}
