package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/runbox/internal/app/reap"
	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/printer"
	"github.com/slok/runbox/internal/storage/memory"
)

type ReapCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	minAge time.Duration
	format string
}

// NewReapCommand returns the reap command.
func NewReapCommand(rootCmd *RootCommand, app *kingpin.Application) *ReapCommand {
	c := &ReapCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("reap", "Remove containers and staging directories leaked by crashed processes.")
	c.Cmd.Flag("min-age", "Minimum age of the reaped resources, younger ones may belong to a running server. By default the policy job lifetime (at least 10m).").DurationVar(&c.minAge)
	c.Cmd.Flag("format", "Output format.").Default(formatText).EnumVar(&c.format, formatText, formatJSON)

	return c
}

func (c ReapCommand) Name() string { return c.Cmd.FullCommand() }

func (c ReapCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	policy, err := c.rootCmd.LoadPolicy(ctx)
	if err != nil {
		return err
	}

	rt, closeRuntime, err := newRuntime(c.rootCmd, policy, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeRuntime() }()

	// A separate process has no in flight jobs, the minimum age protects the ones of running servers.
	repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create job repository: %w", err)
	}

	svc, err := reap.NewService(reap.ServiceConfig{
		Runtime:     rt,
		Repository:  repo,
		StagingRoot: policy.Staging.Root,
		MinAge:      reapMinAge(c.minAge, policy, logger),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create reap service: %w", err)
	}

	report, err := svc.Run(ctx)
	if err != nil {
		return fmt.Errorf("could not reap: %w", err)
	}

	err = newPrinter(c.format, c.rootCmd.Stdout).PrintReapReport(printer.ReapReport{
		RemovedContainers: report.RemovedContainers,
		RemovedDirs:       report.RemovedDirs,
		Failed:            report.Failed,
	})
	if err != nil {
		return fmt.Errorf("could not print report: %w", err)
	}

	if len(report.Failed) > 0 {
		return fmt.Errorf("%d resources could not be reaped", len(report.Failed))
	}

	return nil
}

// reapMinAge returns the flag minimum age, or the policy safe one when unset.
func reapMinAge(flag time.Duration, policy model.Policy, logger log.Logger) time.Duration {
	safe := reap.SafeMinAge(policy)
	if flag <= 0 {
		return safe
	}
	if flag < safe {
		logger.Warningf("Reap minimum age %s is below the %s job lifetime, jobs of running servers may be reaped", flag, safe)
	}
	return flag
}
