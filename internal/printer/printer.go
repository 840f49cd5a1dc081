package printer

import "github.com/slok/runbox/internal/model"

// Printer knows how to print runbox information in different formats.
type Printer interface {
	PrintResult(result model.ExecutionResult) error
	PrintChecks(results []model.CheckResult) error
	PrintReapReport(report ReapReport) error
	PrintMessage(msg string) error
}

// ReapReport is the printable reap summary.
type ReapReport struct {
	RemovedContainers []string
	RemovedDirs       []string
	Failed            []string
}
