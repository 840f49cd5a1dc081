package fake

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
)

// Behavior is how a fake container behaves once started.
type Behavior struct {
	Output   string
	ExitCode int
	// Duration is how long the container runs, negative runs until stopped.
	Duration time.Duration
}

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	// Behavior decides how each container behaves. Defaults to exiting 0 immediately
	// without output.
	Behavior func(spec model.ContainerSpec) Behavior
	// Errors to inject.
	PingErr   error
	CreateErr error
	StartErr  error
	Logger    log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Behavior == nil {
		c.Behavior = func(model.ContainerSpec) Behavior { return Behavior{} }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Fake"})
	return nil
}

type container struct {
	id       string
	spec     model.ContainerSpec
	state    string
	behavior Behavior
	exitAt   time.Time
	stopped  chan struct{}
	exitCode int
	created  time.Time
}

// Engine is a fake implementation of the sandbox.Runtime interface.
// It simulates container lifecycles in memory without a container runtime.
type Engine struct {
	cfg        EngineConfig
	containers map[string]*container
	created    []model.ContainerSpec
	removed    []string
	mu         sync.Mutex
	logger     log.Logger
}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		containers: make(map[string]*container),
		logger:     cfg.Logger,
	}, nil
}

// Check returns successful checks.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	status := model.CheckStatusOK
	msg := "fake runtime is reachable"
	if e.cfg.PingErr != nil {
		status = model.CheckStatusError
		msg = e.cfg.PingErr.Error()
	}
	return []model.CheckResult{{ID: "runtime_reachable", Message: msg, Status: status}}
}

// Ping returns the configured ping error.
func (e *Engine) Ping(ctx context.Context) error { return e.cfg.PingErr }

// EnsureImage always succeeds.
func (e *Engine) EnsureImage(ctx context.Context, image string, pull bool) error { return nil }

// Create registers a new container.
func (e *Engine) Create(ctx context.Context, spec model.ContainerSpec) (string, error) {
	if e.cfg.CreateErr != nil {
		return "", e.cfg.CreateErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range e.containers {
		if c.spec.Name != "" && c.spec.Name == spec.Name {
			return "", fmt.Errorf("container name %s: %w", spec.Name, model.ErrAlreadyExists)
		}
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	e.containers[id] = &container{
		id:      id,
		spec:    spec,
		state:   "created",
		stopped: make(chan struct{}),
		created: time.Now(),
	}
	e.created = append(e.created, spec)
	e.logger.Debugf("Created fake container %s (%s)", id, spec.Name)

	return id, nil
}

// Start starts the container with the configured behavior.
func (e *Engine) Start(ctx context.Context, id string) error {
	if e.cfg.StartErr != nil {
		return e.cfg.StartErr
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.get(id)
	if err != nil {
		return err
	}

	c.behavior = e.cfg.Behavior(c.spec)
	c.state = "running"
	if c.behavior.Duration >= 0 {
		c.exitAt = time.Now().Add(c.behavior.Duration)
	}

	return nil
}

// Wait blocks until the fake container exits, is stopped or the context ends.
func (e *Engine) Wait(ctx context.Context, id string) (int, error) {
	e.mu.Lock()
	c, err := e.get(id)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	if c.state != "running" {
		code := c.exitCode
		e.mu.Unlock()
		return code, nil
	}
	var timer <-chan time.Time
	if c.behavior.Duration >= 0 {
		timer = time.After(time.Until(c.exitAt))
	}
	stopped := c.stopped
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-stopped:
		return 137, nil
	case <-timer:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c.state == "running" {
		c.state = "exited"
		c.exitCode = c.behavior.ExitCode
	}
	return c.exitCode, nil
}

// Logs returns the configured container output.
func (e *Engine) Logs(ctx context.Context, id string, maxBytes int64) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.get(id)
	if err != nil {
		return "", false, err
	}

	out := c.behavior.Output
	if maxBytes > 0 && int64(len(out)) > maxBytes {
		return out[:maxBytes], true, nil
	}
	return out, false, nil
}

// Stop kills the container.
func (e *Engine) Stop(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.get(id)
	if err != nil {
		return err
	}
	if c.state == "running" {
		c.state = "exited"
		c.exitCode = 137
		close(c.stopped)
	}
	return nil
}

// Remove deletes the container.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.get(id)
	if err != nil {
		return err
	}
	if c.state == "running" {
		close(c.stopped)
	}
	delete(e.containers, c.id)
	e.removed = append(e.removed, c.id)
	e.logger.Debugf("Removed fake container %s", c.id)

	return nil
}

// ListManaged returns the existing containers.
func (e *Engine) ListManaged(ctx context.Context) ([]model.ContainerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]model.ContainerInfo, 0, len(e.containers))
	for _, c := range e.containers {
		infos = append(infos, model.ContainerInfo{
			ID:        c.id,
			Name:      c.spec.Name,
			JobID:     c.spec.Labels[model.LabelJobID],
			State:     c.state,
			Labels:    c.spec.Labels,
			CreatedAt: c.created,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos, nil
}

// Created returns the specs of every container created so far.
func (e *Engine) Created() []model.ContainerSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.ContainerSpec(nil), e.created...)
}

// Removed returns the IDs of every container removed so far.
func (e *Engine) Removed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.removed...)
}

// get returns a container by ID or name, like Docker does. Must be called with the lock held.
func (e *Engine) get(idOrName string) (*container, error) {
	if c, ok := e.containers[idOrName]; ok {
		return c, nil
	}
	for _, c := range e.containers {
		if c.spec.Name == idOrName {
			return c, nil
		}
	}
	return nil, fmt.Errorf("container %s: %w", idOrName, model.ErrNotFound)
}
