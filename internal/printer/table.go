package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/docker/go-units"

	"github.com/slok/runbox/internal/model"
)

// TablePrinter prints runbox information in a human friendly format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintResult prints the program output followed by the execution details.
func (t *TablePrinter) PrintResult(result model.ExecutionResult) error {
	if result.Output != "" {
		fmt.Fprint(t.writer, result.Output)
		if !strings.HasSuffix(result.Output, "\n") {
			fmt.Fprintln(t.writer)
		}
		if result.OutputTruncated {
			fmt.Fprintln(t.writer, "[output truncated]")
		}
		fmt.Fprintln(t.writer)
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Job:\t%s\n", result.JobID)
	fmt.Fprintf(tw, "State:\t%s\n", result.State)
	if result.ExitCode != nil {
		fmt.Fprintf(tw, "Exit code:\t%d\n", *result.ExitCode)
	} else {
		fmt.Fprintf(tw, "Exit code:\t-\n")
	}
	fmt.Fprintf(tw, "Duration:\t%s\n", units.HumanDuration(result.Duration))
	if result.ContainerID != "" {
		fmt.Fprintf(tw, "Container:\t%s\n", shortID(result.ContainerID))
	}
	if result.Error != nil {
		fmt.Fprintf(tw, "Error:\t%s: %s\n", result.Error.Kind, result.Error.Message)
	}
	for _, a := range result.Artifacts {
		fmt.Fprintf(tw, "Artifact:\t%s (%s)\n", a.Filename, units.HumanSize(float64(a.Size)))
	}

	return nil
}

// PrintChecks prints preflight check results.
func (t *TablePrinter) PrintChecks(results []model.CheckResult) error {
	for _, r := range results {
		fmt.Fprintf(t.writer, "  %s %-20s %s\n", statusIcon(r.Status), r.ID, r.Message)
	}
	return nil
}

// PrintReapReport prints a reap summary.
func (t *TablePrinter) PrintReapReport(report ReapReport) error {
	if len(report.RemovedContainers)+len(report.RemovedDirs)+len(report.Failed) == 0 {
		fmt.Fprintln(t.writer, "Nothing to reap")
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "RESOURCE\tRESULT")
	for _, c := range report.RemovedContainers {
		fmt.Fprintf(tw, "container %s\tremoved\n", shortID(c))
	}
	for _, d := range report.RemovedDirs {
		fmt.Fprintf(tw, "%s\tremoved\n", d)
	}
	for _, f := range report.Failed {
		fmt.Fprintf(tw, "%s\tfailed\n", f)
	}

	return nil
}

// PrintMessage prints a simple message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func statusIcon(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}

// shortID returns the Docker style 12 char short ID.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
