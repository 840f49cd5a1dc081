package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/runbox/internal/metrics"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/storage/memory"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file     string
	code     string
	timeout  time.Duration
	workDir  string
	refFiles []string
	format   string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run code once in a disposable container.")
	c.Cmd.Arg("file", "File with the code to run, '-' reads from stdin.").StringVar(&c.file)
	c.Cmd.Flag("code", "Code to run.").Short('c').StringVar(&c.code)
	c.Cmd.Flag("timeout", "Execution timeout, by default the policy one.").DurationVar(&c.timeout)
	c.Cmd.Flag("work-dir", "Working directory inside the container, by default the policy one.").StringVar(&c.workDir)
	c.Cmd.Flag("ref-file", "Remote file staged in the work dir (URL or FILENAME=URL). Repeatable.").StringsVar(&c.refFiles)
	c.Cmd.Flag("format", "Output format.").Default(formatText).EnumVar(&c.format, formatText, formatJSON)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	code, err := c.readCode()
	if err != nil {
		return err
	}

	policy, err := c.rootCmd.LoadPolicy(ctx)
	if err != nil {
		return err
	}

	rt, closeRuntime, err := newRuntime(c.rootCmd, policy, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRuntime(); err != nil {
			logger.Warningf("Could not close container runtime: %s", err)
		}
	}()

	if err := rt.EnsureImage(ctx, policy.Image, policy.PullImage); err != nil {
		return fmt.Errorf("could not ensure execution image: %w", err)
	}

	repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create job repository: %w", err)
	}
	svc, err := newExecuteService(policy, rt, repo, metrics.Noop, logger)
	if err != nil {
		return err
	}

	req := model.ExecutionRequest{
		Code:    code,
		Timeout: c.timeout,
		WorkDir: c.workDir,
	}
	for _, spec := range c.refFiles {
		req.RefFiles = append(req.RefFiles, parseRefFile(spec))
	}

	result, execErr := svc.Execute(ctx, req)
	if result != nil {
		if err := newPrinter(c.format, c.rootCmd.Stdout).PrintResult(*result); err != nil {
			return fmt.Errorf("could not print result: %w", err)
		}
	}
	if execErr != nil {
		return execErr
	}
	if !result.Success {
		return fmt.Errorf("execution finished as %s without success", result.State)
	}

	return nil
}

func (c RunCommand) readCode() (string, error) {
	switch {
	case c.code != "" && c.file != "":
		return "", fmt.Errorf("--code and a code file can't be used together")
	case c.code != "":
		return c.code, nil
	case c.file == "":
		return "", fmt.Errorf("a code file or --code is required")
	}

	var (
		data []byte
		err  error
	)
	if c.file == "-" {
		data, err = io.ReadAll(c.rootCmd.Stdin)
	} else {
		data, err = os.ReadFile(c.file)
	}
	if err != nil {
		return "", fmt.Errorf("could not read code: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("code is empty")
	}

	return string(data), nil
}

// parseRefFile parses "URL" and "FILENAME=URL" ref file specs.
func parseRefFile(spec string) model.RefFile {
	name, url, ok := strings.Cut(spec, "=")
	if ok && !strings.Contains(name, "://") && strings.Contains(url, "://") {
		return model.RefFile{URL: url, Filename: name}
	}
	return model.RefFile{URL: spec}
}
