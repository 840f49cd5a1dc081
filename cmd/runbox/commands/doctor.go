package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/runbox/internal/model"
)

// DoctorCommand checks the host can run executions.
type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run preflight checks for the execution environment.")
	c.Cmd.Flag("format", "Output format.").Default(formatText).EnumVar(&c.format, formatText, formatJSON)

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger
	out := c.rootCmd.Stdout

	policy, err := c.rootCmd.LoadPolicy(ctx)
	if err != nil {
		return err
	}

	rt, closeRuntime, err := newRuntime(c.rootCmd, policy, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeRuntime() }()

	results := rt.Check(ctx)
	results = append(results,
		checkStagingRoot(policy.Staging.Root),
		checkJobUser(policy.User, os.Geteuid()),
	)

	p := newPrinter(c.format, out)
	if c.format == formatText {
		fmt.Fprintf(out, "\nChecking %s runtime...\n", c.rootCmd.Runtime)
	}
	if err := p.PrintChecks(results); err != nil {
		return fmt.Errorf("could not print checks: %w", err)
	}

	_, warnings, errs := model.CountByStatus(results)
	if c.format == formatText {
		fmt.Fprintln(out)
		if errs == 0 && warnings == 0 {
			fmt.Fprintln(out, "All checks passed!")
		} else {
			var summary []string
			if errs > 0 {
				summary = append(summary, fmt.Sprintf("%d error(s)", errs))
			}
			if warnings > 0 {
				summary = append(summary, fmt.Sprintf("%d warning(s)", warnings))
			}
			fmt.Fprintln(out, strings.Join(summary, ", "))
		}
	}

	if model.HasErrors(results) {
		return fmt.Errorf("preflight checks failed with %d error(s)", errs)
	}

	return nil
}

// checkStagingRoot checks the staging root can hold job directories.
func checkStagingRoot(root string) model.CheckResult {
	const id = "staging_writable"

	if err := os.MkdirAll(root, 0o755); err != nil {
		return model.CheckResult{ID: id, Message: fmt.Sprintf("Could not create staging root %s: %s", root, err), Status: model.CheckStatusError}
	}
	dir, err := os.MkdirTemp(root, "doctor-")
	if err != nil {
		return model.CheckResult{ID: id, Message: fmt.Sprintf("Staging root %s is not writable: %s", root, err), Status: model.CheckStatusError}
	}
	_ = os.RemoveAll(dir)

	return model.CheckResult{ID: id, Message: fmt.Sprintf("Staging root %s is writable", root), Status: model.CheckStatusOK}
}

// checkJobUser checks the files the executed code creates in the staging directories can be removed.
func checkJobUser(user string, euid int) model.CheckResult {
	const id = "job_user_files"

	if euid == 0 {
		return model.CheckResult{ID: id, Message: "Running as root, job files can always be removed", Status: model.CheckStatusOK}
	}

	uidStr, _, _ := strings.Cut(user, ":")
	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return model.CheckResult{ID: id, Message: fmt.Sprintf("Job user %q is not numeric, could not check its files can be removed", user), Status: model.CheckStatusWarning}
	}
	if uid != euid {
		return model.CheckResult{
			ID:      id,
			Message: fmt.Sprintf("Jobs run as uid %d and runbox as uid %d, directories created by jobs may leak; run as root or set the policy user to %d", uid, euid, euid),
			Status:  model.CheckStatusWarning,
		}
	}

	return model.CheckResult{ID: id, Message: fmt.Sprintf("Jobs run as the runbox uid %d", euid), Status: model.CheckStatusOK}
}
