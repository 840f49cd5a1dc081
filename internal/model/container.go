package model

import "time"

// Labels set on every container created by runbox.
const (
	LabelManaged    = "runbox.managed"
	LabelJobID      = "runbox.job"
	LabelDisposable = "runbox.disposable"
)

// ContainerSpec is the declarative launch specification of an execution container.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	WorkingDir string
	User       string
	Env        map[string]string
	Labels     map[string]string

	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64

	// NetworkDisabled is always true, execution containers never get network access.
	NetworkDisabled bool
	Mounts          []Mount
	SecurityOpts    []string
	CapDrop         []string
	// Disposable marks the container for explicit removal after use, runbox never relies on
	// runtime auto removal.
	Disposable bool
}

// Mount is a host path bind mounted into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerInfo is the runtime view of a managed container.
type ContainerInfo struct {
	ID        string
	Name      string
	JobID     string
	State     string
	Labels    map[string]string
	CreatedAt time.Time
}
