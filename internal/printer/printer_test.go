package printer_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/printer"
)

func intPtr(i int) *int { return &i }

func resultFixture() model.ExecutionResult {
	return model.ExecutionResult{
		JobID:       "01JOB",
		State:       model.JobStateCompleted,
		Success:     true,
		Output:      "hello",
		ExitCode:    intPtr(0),
		ContainerID: "0123456789abcdef0123",
		Duration:    1500 * time.Millisecond,
		Artifacts:   []model.Artifact{{Filename: "plot.png", Content: "cG5n", Size: 2048}},
	}
}

func TestTablePrinterPrintResult(t *testing.T) {
	tests := map[string]struct {
		result     func() model.ExecutionResult
		expContain []string
	}{
		"A completed result should print the output and details.": {
			result: resultFixture,
			expContain: []string{
				"hello\n",
				"Job:        01JOB",
				"State:      completed",
				"Exit code:  0",
				"Container:  0123456789ab\n",
				"Artifact:   plot.png (2.048kB)",
			},
		},
		"A timed out result should print the error and no exit code.": {
			result: func() model.ExecutionResult {
				r := resultFixture()
				r.State = model.JobStateTimedOut
				r.ExitCode = nil
				r.Output = ""
				r.Artifacts = nil
				r.Error = model.NewExecutionError(model.ErrorKindTimeout, errors.New("execution exceeded the 1s timeout"))
				return r
			},
			expContain: []string{
				"Exit code:  -",
				"Error:      timeout: execution exceeded the 1s timeout",
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			p := printer.NewTablePrinter(&buf)

			err := p.PrintResult(test.result())
			require.NoError(t, err)

			out := buf.String()
			for _, exp := range test.expContain {
				assert.Contains(t, out, exp)
			}
		})
	}
}

func TestJSONPrinterPrintResult(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	err := p.PrintResult(resultFixture())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"job_id": "01JOB"`)
	assert.Contains(t, out, `"exit_code": 0`)
	assert.Contains(t, out, `"duration_ms": 1500`)
	assert.Contains(t, out, `"error": null`)
	assert.Contains(t, out, `"filename": "plot.png"`)
}

func TestPrinterPrintChecks(t *testing.T) {
	checks := []model.CheckResult{
		{ID: "docker_reachable", Message: "Docker daemon is reachable", Status: model.CheckStatusOK},
		{ID: "image_present", Message: "Image is missing", Status: model.CheckStatusWarning},
	}

	var buf bytes.Buffer
	require.NoError(t, printer.NewTablePrinter(&buf).PrintChecks(checks))
	assert.Contains(t, buf.String(), "OK docker_reachable")
	assert.Contains(t, buf.String(), "!! image_present")

	buf.Reset()
	require.NoError(t, printer.NewJSONPrinter(&buf).PrintChecks(checks))
	assert.Contains(t, buf.String(), `"status": "warning"`)
}

func TestPrinterPrintReapReport(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintReapReport(printer.ReapReport{}))
	assert.Equal(t, "Nothing to reap", strings.TrimSpace(buf.String()))

	buf.Reset()
	require.NoError(t, p.PrintReapReport(printer.ReapReport{
		RemovedContainers: []string{"0123456789abcdef"},
		RemovedDirs:       []string{"/tmp/runbox/job-01a-1"},
		Failed:            []string{"c2"},
	}))
	out := buf.String()
	assert.Contains(t, out, "container 0123456789ab")
	assert.Contains(t, out, "/tmp/runbox/job-01a-1")
	assert.Contains(t, out, "failed")

	buf.Reset()
	require.NoError(t, printer.NewJSONPrinter(&buf).PrintReapReport(printer.ReapReport{}))
	assert.Contains(t, buf.String(), `"removed_containers": []`)
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintMessage("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}
