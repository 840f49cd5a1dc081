package model

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Policy is the deployment execution policy. It's platform controlled, requests can't change it.
type Policy struct {
	Image     string
	PullImage bool
	// Command is the command prefix, the code is appended as the last argument.
	Command   []string
	User      string
	Env       map[string]string
	Resources ResourcesPolicy
	Staging   StagingPolicy
	Execution ExecutionPolicy
	Artifacts ArtifactsPolicy
}

// ResourcesPolicy are the fixed container resource ceilings.
type ResourcesPolicy struct {
	MemoryBytes int64
	CPUs        float64
	PidsLimit   int64
}

// StagingPolicy controls the ref file staging.
type StagingPolicy struct {
	Root         string
	MaxFileBytes int64
	MaxTotalSize int64
	Concurrency  int
}

// ExecutionPolicy controls the request level execution settings.
type ExecutionPolicy struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	DefaultWorkDir string
	// WorkDirRoot is the directory every request work dir must live under.
	WorkDirRoot    string
	MaxOutputBytes int64
	CleanupTimeout time.Duration
}

// ArtifactsPolicy controls the generated files collection.
type ArtifactsPolicy struct {
	Enabled    bool
	Extensions []string
	MaxBytes   int64
}

// DefaultPolicy returns the default execution policy.
func DefaultPolicy() Policy {
	return Policy{
		Image:   "runbox-python:latest",
		Command: []string{"python", "-c"},
		User:    "65534:65534",
		Env: map[string]string{
			"PYTHONUNBUFFERED": "1",
			"MPLCONFIGDIR":     "/tmp",
		},
		Resources: ResourcesPolicy{
			MemoryBytes: 128 * 1024 * 1024,
			CPUs:        0.5,
			PidsLimit:   64,
		},
		Staging: StagingPolicy{
			MaxFileBytes: 100 * 1024 * 1024,
			MaxTotalSize: 500 * 1024 * 1024,
			Concurrency:  4,
		},
		Execution: ExecutionPolicy{
			DefaultTimeout: DefaultTimeout,
			MaxTimeout:     300 * time.Second,
			DefaultWorkDir: DefaultWorkDir,
			WorkDirRoot:    DefaultWorkDir,
			MaxOutputBytes: 1024 * 1024,
			CleanupTimeout: 30 * time.Second,
		},
		Artifacts: ArtifactsPolicy{
			Enabled:    true,
			Extensions: []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".svg"},
			MaxBytes:   10 * 1024 * 1024,
		},
	}
}

// Validate validates the policy.
func (p Policy) Validate() error {
	if p.Image == "" {
		return fmt.Errorf("image is required: %w", ErrNotValid)
	}
	if len(p.Command) == 0 {
		return fmt.Errorf("command is required: %w", ErrNotValid)
	}
	if isRootUser(p.User) {
		return fmt.Errorf("user %q is privileged, execution must run as a non root user: %w", p.User, ErrNotValid)
	}
	if p.Resources.MemoryBytes <= 0 {
		return fmt.Errorf("memory must be positive: %w", ErrNotValid)
	}
	if p.Resources.CPUs <= 0 {
		return fmt.Errorf("cpus must be positive: %w", ErrNotValid)
	}
	if p.Resources.PidsLimit <= 0 {
		return fmt.Errorf("pids limit must be positive: %w", ErrNotValid)
	}
	if p.Staging.MaxFileBytes <= 0 || p.Staging.MaxTotalSize <= 0 {
		return fmt.Errorf("staging size limits must be positive: %w", ErrNotValid)
	}
	if p.Staging.Concurrency <= 0 {
		return fmt.Errorf("staging concurrency must be positive: %w", ErrNotValid)
	}
	if p.Execution.DefaultTimeout <= 0 || p.Execution.MaxTimeout < p.Execution.DefaultTimeout {
		return fmt.Errorf("default timeout must be positive and not above max timeout: %w", ErrNotValid)
	}
	if !path.IsAbs(p.Execution.WorkDirRoot) {
		return fmt.Errorf("work dir root must be absolute: %w", ErrNotValid)
	}
	if !WorkDirAllowed(p.Execution.WorkDirRoot, p.Execution.DefaultWorkDir) {
		return fmt.Errorf("default work dir %q must be under %q: %w", p.Execution.DefaultWorkDir, p.Execution.WorkDirRoot, ErrNotValid)
	}
	if p.Execution.MaxOutputBytes <= 0 {
		return fmt.Errorf("max output size must be positive: %w", ErrNotValid)
	}
	if p.Execution.CleanupTimeout <= 0 {
		return fmt.Errorf("cleanup timeout must be positive: %w", ErrNotValid)
	}

	return nil
}

// WorkDirAllowed returns true when workDir is root or a directory under it.
func WorkDirAllowed(root, workDir string) bool {
	if !path.IsAbs(workDir) {
		return false
	}
	root = path.Clean(root)
	workDir = path.Clean(workDir)
	if root == "/" || workDir == root {
		return true
	}
	return strings.HasPrefix(workDir, root+"/")
}

func isRootUser(user string) bool {
	name, _, _ := strings.Cut(strings.TrimSpace(user), ":")
	return name == "" || name == "root" || name == "0"
}
