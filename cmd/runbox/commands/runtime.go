package commands

import (
	"fmt"

	"github.com/slok/runbox/internal/app/execute"
	"github.com/slok/runbox/internal/artifact"
	"github.com/slok/runbox/internal/cleanup"
	"github.com/slok/runbox/internal/containerspec"
	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/metrics"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/sandbox"
	"github.com/slok/runbox/internal/sandbox/docker"
	"github.com/slok/runbox/internal/sandbox/fake"
	"github.com/slok/runbox/internal/stage"
	"github.com/slok/runbox/internal/storage"
)

// newRuntime creates the container runtime selected by the global flags. The returned
// close function releases the runtime client.
func newRuntime(rootCmd *RootCommand, policy model.Policy, logger log.Logger) (sandbox.Runtime, func() error, error) {
	switch rootCmd.Runtime {
	case RuntimeFake:
		eng, err := fake.NewEngine(fake.EngineConfig{Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create fake runtime: %w", err)
		}
		return eng, func() error { return nil }, nil
	default:
		eng, err := docker.NewEngine(docker.EngineConfig{
			Host:   rootCmd.DockerHost,
			Image:  policy.Image,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create docker runtime: %w", err)
		}
		return eng, eng.Close, nil
	}
}

// newExecuteService wires the execution core for a policy.
func newExecuteService(policy model.Policy, rt sandbox.Runtime, repo storage.JobRepository, rec metrics.Recorder, logger log.Logger) (*execute.Service, error) {
	stager, err := stage.NewStager(stage.StagerConfig{
		Root:          policy.Staging.Root,
		MaxFileBytes:  policy.Staging.MaxFileBytes,
		MaxTotalBytes: policy.Staging.MaxTotalSize,
		Concurrency:   policy.Staging.Concurrency,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create stager: %w", err)
	}

	builder, err := containerspec.NewBuilder(containerspec.BuilderConfig{Policy: policy, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create container spec builder: %w", err)
	}

	cleaner, err := cleanup.NewManager(cleanup.ManagerConfig{
		Runtime:         rt,
		StagingRoot:     stager.Root(),
		Timeout:         policy.Execution.CleanupTimeout,
		MetricsRecorder: rec,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create cleanup manager: %w", err)
	}

	collector, err := artifact.NewCollector(artifact.CollectorConfig{
		Extensions: policy.Artifacts.Extensions,
		MaxBytes:   policy.Artifacts.MaxBytes,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create artifact collector: %w", err)
	}

	svc, err := execute.NewService(execute.ServiceConfig{
		Runtime:           rt,
		Stager:            stager,
		SpecBuilder:       builder,
		Cleaner:           cleaner,
		ArtifactCollector: collector,
		Repository:        repo,
		Policy:            policy,
		MetricsRecorder:   rec,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create execute service: %w", err)
	}

	return svc, nil
}
