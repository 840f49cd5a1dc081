package conventions

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultConfigDir is the default runbox config directory name (relative to home).
	DefaultConfigDir = ".runbox"
	// DefaultPolicyFile is the default policy filename inside the config directory.
	DefaultPolicyFile = "policy.yaml"
	// StagingDirName is the default staging root directory name (relative to the OS temp dir).
	StagingDirName = "runbox"

	// ContainerNamePrefix is the prefix of every execution container name.
	ContainerNamePrefix = "runbox-"
	// JobDirPrefix is the prefix of every job staging directory.
	JobDirPrefix = "job-"
	// InputsDir is the job subdirectory with the staged ref files.
	InputsDir = "inputs"
	// OutputsDir is the job subdirectory mounted as the writable container work dir.
	OutputsDir = "outputs"
)

// DefaultStagingRoot returns the default staging root.
func DefaultStagingRoot() string {
	return filepath.Join(os.TempDir(), StagingDirName)
}

// ContainerName returns the container name for a job.
func ContainerName(jobID string) string {
	return ContainerNamePrefix + strings.ToLower(jobID)
}

// JobDirPattern returns the os.MkdirTemp pattern for a job staging directory.
func JobDirPattern(jobID string) string {
	return JobDirPrefix + strings.ToLower(jobID) + "-"
}

// PolicyPath returns the default policy file path for a home directory.
func PolicyPath(homeDir string) string {
	return filepath.Join(homeDir, DefaultConfigDir, DefaultPolicyFile)
}
