package printer

import (
	"encoding/json"
	"io"

	"github.com/slok/runbox/internal/model"
)

// JSONPrinter prints runbox information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// resultOutput represents an execution result.
type resultOutput struct {
	JobID           string           `json:"job_id"`
	State           string           `json:"state"`
	Success         bool             `json:"success"`
	ExitCode        *int             `json:"exit_code"`
	Output          string           `json:"output"`
	OutputTruncated bool             `json:"output_truncated"`
	ContainerID     string           `json:"container_id,omitempty"`
	DurationMS      int64            `json:"duration_ms"`
	Error           *errorOutput     `json:"error"`
	Artifacts       []artifactOutput `json:"artifacts,omitempty"`
}

type errorOutput struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

type artifactOutput struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

type checkOutput struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type reapOutput struct {
	RemovedContainers []string `json:"removed_containers"`
	RemovedDirs       []string `json:"removed_dirs"`
	Failed            []string `json:"failed"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintResult prints an execution result in JSON format.
func (j *JSONPrinter) PrintResult(result model.ExecutionResult) error {
	output := resultOutput{
		JobID:           result.JobID,
		State:           string(result.State),
		Success:         result.Success,
		ExitCode:        result.ExitCode,
		Output:          result.Output,
		OutputTruncated: result.OutputTruncated,
		ContainerID:     result.ContainerID,
		DurationMS:      result.Duration.Milliseconds(),
	}
	if result.Error != nil {
		output.Error = &errorOutput{
			Kind:    string(result.Error.Kind),
			Message: result.Error.Message,
			URL:     result.Error.URL,
		}
	}
	for _, a := range result.Artifacts {
		output.Artifacts = append(output.Artifacts, artifactOutput{Filename: a.Filename, Size: a.Size, Content: a.Content})
	}

	return j.encode(output)
}

// PrintChecks prints preflight check results in JSON format.
func (j *JSONPrinter) PrintChecks(results []model.CheckResult) error {
	output := make([]checkOutput, 0, len(results))
	for _, r := range results {
		output = append(output, checkOutput{ID: r.ID, Status: string(r.Status), Message: r.Message})
	}
	return j.encode(output)
}

// PrintReapReport prints a reap summary in JSON format.
func (j *JSONPrinter) PrintReapReport(report ReapReport) error {
	return j.encode(reapOutput{
		RemovedContainers: nonNil(report.RemovedContainers),
		RemovedDirs:       nonNil(report.RemovedDirs),
		Failed:            nonNil(report.Failed),
	})
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
