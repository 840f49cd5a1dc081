package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

// EngineConfig is the configuration for the Docker engine.
type EngineConfig struct {
	Client DockerClient
	// Host is the Docker daemon address, when empty the environment (DOCKER_HOST...) is used.
	Host   string
	Image  string
	Logger log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Client == nil {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if c.Host != "" {
			opts = append(opts, client.WithHost(c.Host))
		}
		cli, err := client.NewClientWithOpts(opts...)
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Docker"})
	return nil
}

// Engine is the Docker implementation of the sandbox.Runtime interface.
type Engine struct {
	client DockerClient
	image  string
	logger log.Logger
}

// NewEngine creates a new Docker engine. The engine owns a single client connection that
// is shared by all the jobs, call Close when the process shuts down.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		client: cfg.Client,
		image:  cfg.Image,
		logger: cfg.Logger,
	}, nil
}

// Close closes the Docker client connection.
func (e *Engine) Close() error {
	return e.client.Close()
}

// Check performs the Docker preflight checks.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	var results []model.CheckResult

	if err := e.Ping(ctx); err != nil {
		return append(results, model.CheckResult{
			ID:      "docker_reachable",
			Message: err.Error(),
			Status:  model.CheckStatusError,
		})
	}
	results = append(results, model.CheckResult{
		ID:      "docker_reachable",
		Message: "Docker daemon is reachable",
		Status:  model.CheckStatusOK,
	})

	if e.image == "" {
		return results
	}

	_, err := e.client.ImageInspect(ctx, e.image)
	switch {
	case err == nil:
		results = append(results, model.CheckResult{
			ID:      "image_present",
			Message: fmt.Sprintf("Image %s is present", e.image),
			Status:  model.CheckStatusOK,
		})
	case isNotFound(err):
		results = append(results, model.CheckResult{
			ID:      "image_present",
			Message: fmt.Sprintf("Image %s is missing, build or pull it before serving", e.image),
			Status:  model.CheckStatusWarning,
		})
	default:
		results = append(results, model.CheckResult{
			ID:      "image_present",
			Message: fmt.Sprintf("Could not inspect image %s: %s", e.image, err),
			Status:  model.CheckStatusError,
		})
	}

	return results
}

// Ping checks the Docker daemon is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if _, err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon is not reachable: %w", err)
	}
	return nil
}

// EnsureImage checks the image exists and pulls it when missing if pull is enabled.
func (e *Engine) EnsureImage(ctx context.Context, img string, pull bool) error {
	_, err := e.client.ImageInspect(ctx, img)
	if err == nil {
		e.logger.Debugf("Image %s already present", img)
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("could not inspect image %s: %w", img, err)
	}
	if !pull {
		return fmt.Errorf("image %s: %w", img, model.ErrNotFound)
	}

	e.logger.Infof("Pulling image: %s", img)
	rc, err := e.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer rc.Close()

	// Consume the pull response to ensure it completes.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	e.logger.Infof("Pulled image: %s", img)

	return nil
}

// Create creates the execution container.
func (e *Engine) Create(ctx context.Context, spec model.ContainerSpec) (string, error) {
	containerConfig, hostConfig := containerConfigs(spec)

	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		e.logger.Warningf("Container %s creation warning: %s", spec.Name, w)
	}
	e.logger.Debugf("Created container %s (%s)", spec.Name, resp.ID)

	return resp.ID, nil
}

// Start starts a created container.
func (e *Engine) Start(ctx context.Context, id string) error {
	if err := e.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// Wait waits until the container is not running.
func (e *Engine) Wait(ctx context.Context, id string) (int, error) {
	waitCh, errCh := e.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-errCh:
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if isNotFound(err) {
			return 0, fmt.Errorf("container %s: %w", id, model.ErrNotFound)
		}
		return 0, fmt.Errorf("failed waiting for container %s: %w", id, err)
	case resp := <-waitCh:
		if resp.Error != nil && resp.Error.Message != "" {
			return 0, fmt.Errorf("container %s wait error: %s", id, resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	}
}

// Logs returns the combined container output.
func (e *Engine) Logs(ctx context.Context, id string, maxBytes int64) (string, bool, error) {
	rc, err := e.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to get container %s logs: %w", id, err)
	}
	defer rc.Close()

	// Both streams go to the same buffer so the output keeps the emission order.
	buf := &limitedBuffer{max: maxBytes}
	if _, err := stdcopy.StdCopy(buf, buf, rc); err != nil {
		return buf.String(), buf.truncated, fmt.Errorf("failed to read container %s logs: %w", id, err)
	}

	return buf.String(), buf.truncated, nil
}

// Stop kills the container without grace period.
func (e *Engine) Stop(ctx context.Context, id string) error {
	timeout := 0
	err := e.client.ContainerStop(ctx, id, container.StopOptions{Signal: "SIGKILL", Timeout: &timeout})
	if err == nil {
		return nil
	}

	if isNotFound(err) {
		return fmt.Errorf("container %s: %w", id, model.ErrNotFound)
	}
	// Stopping an already stopped container is idempotent.
	if cerrdefs.IsConflict(err) || strings.Contains(err.Error(), "is not running") {
		e.logger.Debugf("Container %s is already stopped", id)
		return nil
	}

	return fmt.Errorf("failed to stop container %s: %w", id, err)
}

// Remove force removes the container.
func (e *Engine) Remove(ctx context.Context, id string) error {
	err := e.client.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err == nil {
		return nil
	}

	if isNotFound(err) {
		return fmt.Errorf("container %s: %w", id, model.ErrNotFound)
	}
	if strings.Contains(err.Error(), "is already in progress") {
		e.logger.Debugf("Container %s removal already in progress", id)
		return nil
	}

	return fmt.Errorf("failed to remove container %s: %w", id, err)
}

// ListManaged lists the containers labelled as managed by runbox.
func (e *Engine) ListManaged(ctx context.Context) ([]model.ContainerInfo, error) {
	containers, err := e.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", model.LabelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]model.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/") // Docker prefixes with /
		}
		infos = append(infos, model.ContainerInfo{
			ID:        c.ID,
			Name:      name,
			JobID:     c.Labels[model.LabelJobID],
			State:     string(c.State),
			Labels:    c.Labels,
			CreatedAt: time.Unix(c.Created, 0),
		})
	}

	return infos, nil
}

func containerConfigs(spec model.ContainerSpec) (*container.Config, *container.HostConfig) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	containerConfig := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		WorkingDir:      spec.WorkingDir,
		User:            spec.User,
		Env:             env,
		Labels:          spec.Labels,
		NetworkDisabled: spec.NetworkDisabled,
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	pidsLimit := spec.PidsLimit
	hostConfig := &container.HostConfig{
		Mounts: mounts,
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes, // No swap allowed.
			NanoCPUs:   spec.NanoCPUs,
			PidsLimit:  &pidsLimit,
		},
		SecurityOpt: spec.SecurityOpts,
		CapDrop:     spec.CapDrop,
		// Removal is always explicit, logs and exit code are read after the container exits.
		AutoRemove: false,
	}
	if spec.NetworkDisabled {
		hostConfig.NetworkMode = container.NetworkMode(network.NetworkNone)
	}

	return containerConfig, hostConfig
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return cerrdefs.IsNotFound(err) || strings.Contains(err.Error(), "No such container") || strings.Contains(err.Error(), "No such image")
}

// limitedBuffer stores up to max bytes and discards the rest, it never fails so the
// log stream is always drained.
type limitedBuffer struct {
	buf       strings.Builder
	max       int64
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.max <= 0 {
		l.buf.Write(p)
		return len(p), nil
	}

	remaining := l.max - int64(l.buf.Len())
	if remaining <= 0 {
		l.truncated = l.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		l.buf.Write(p[:remaining])
		l.truncated = true
		return len(p), nil
	}
	l.buf.Write(p)
	return len(p), nil
}

func (l *limitedBuffer) String() string { return l.buf.String() }
