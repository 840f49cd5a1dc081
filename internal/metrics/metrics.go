package metrics

import (
	"context"
	"time"
)

// Recorder knows how to record the execution metrics.
type Recorder interface {
	// MeasureJobDuration measures a finished job, errKind is empty when there was no error.
	MeasureJobDuration(ctx context.Context, state string, errKind string, duration time.Duration)
	// MeasureStagingDuration measures the ref file staging of a job.
	MeasureStagingDuration(ctx context.Context, success bool, files int, bytes int64, duration time.Duration)
	// AddInflightJobs adds quantity jobs to the current in flight jobs.
	AddInflightJobs(ctx context.Context, quantity int)
	// IncCleanupFailures counts a failed resource teardown (container or staging).
	IncCleanupFailures(ctx context.Context, resource string)
	// IncReapedResources counts leaked resources removed by the reaper.
	IncReapedResources(ctx context.Context, resource string, quantity int)
	// IncAdmissionRejections counts the requests rejected before reaching the orchestrator.
	IncAdmissionRejections(ctx context.Context, reason string)
}

// Noop is a no-op metrics recorder.
var Noop = noop(0)

var _ Recorder = Noop

type noop int

func (noop) MeasureJobDuration(context.Context, string, string, time.Duration)       {}
func (noop) MeasureStagingDuration(context.Context, bool, int, int64, time.Duration) {}
func (noop) AddInflightJobs(context.Context, int)                                    {}
func (noop) IncCleanupFailures(context.Context, string)                              {}
func (noop) IncReapedResources(context.Context, string, int)                         {}
func (noop) IncAdmissionRejections(context.Context, string)                          {}
