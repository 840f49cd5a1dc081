package model

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the execution timeout used when the request doesn't set one.
	DefaultTimeout = 30 * time.Second
	// DefaultWorkDir is the in-container working directory used when the request doesn't set one.
	DefaultWorkDir = "/data"
)

// ExecutionRequest is an already shape-validated code execution request.
type ExecutionRequest struct {
	// Code is the source code that will be executed.
	Code string
	// Timeout is the wall-clock budget for staging and execution combined.
	Timeout time.Duration
	// WorkDir is the absolute working directory inside the container.
	WorkDir string
	// RefFiles are remote files that will be staged and mounted read-only in WorkDir.
	RefFiles []RefFile
}

// RefFile references a remote input file.
type RefFile struct {
	URL string
	// Filename is optional, when empty it's derived from the last URL path segment.
	Filename string
}

// Defaults sets the default values on the unset fields.
func (r *ExecutionRequest) Defaults() {
	if r.Timeout == 0 {
		r.Timeout = DefaultTimeout
	}
	if r.WorkDir == "" {
		r.WorkDir = DefaultWorkDir
	}
}

// Validate validates the execution request.
func (r ExecutionRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("code is required: %w", ErrNotValid)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %w", ErrNotValid)
	}
	if !path.IsAbs(r.WorkDir) {
		return fmt.Errorf("work dir %q must be absolute: %w", r.WorkDir, ErrNotValid)
	}
	if path.Clean(r.WorkDir) != r.WorkDir {
		return fmt.Errorf("work dir %q must be a clean path: %w", r.WorkDir, ErrNotValid)
	}
	for i, rf := range r.RefFiles {
		if rf.URL == "" {
			return fmt.Errorf("ref file %d url is required: %w", i, ErrNotValid)
		}
	}

	return nil
}

// StagedFile is a ref file downloaded to the host.
type StagedFile struct {
	// Name is the logical filename, relative to the work dir.
	Name string
	// Path is the absolute path on the host.
	Path string
	Size int64
	URL  string
}

// Staging is the per job host workspace.
type Staging struct {
	// Dir is the job staging directory, removing it removes everything the job staged.
	Dir string
	// InputsDir holds the downloaded ref files.
	InputsDir string
	// OutputsDir is mounted writable as the container work dir.
	OutputsDir string
	Files      []StagedFile
}

// Artifact is a file generated by the executed code.
type Artifact struct {
	Filename string
	// Content is the base64 encoded file content.
	Content string
	Size    int64
}

// ExecutionResult is the outcome of an execution job.
type ExecutionResult struct {
	JobID   string
	Success bool
	// Output is the combined stdout and stderr of the container.
	Output          string
	OutputTruncated bool
	// ExitCode is nil when the container didn't exit by itself (timeout, kill, never started).
	ExitCode    *int
	ContainerID string
	State       JobState
	Duration    time.Duration
	Artifacts   []Artifact
	Error       *ExecutionError
}
