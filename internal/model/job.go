package model

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of an execution job.
type JobState string

const (
	JobStatePending           JobState = "pending"
	JobStateStaging           JobState = "staging"
	JobStateSpecBuilt         JobState = "spec_built"
	JobStateContainerStarting JobState = "container_starting"
	JobStateRunning           JobState = "running"
	JobStateCompleted         JobState = "completed"
	JobStateTimedOut          JobState = "timed_out"
	JobStateFailed            JobState = "failed"
	JobStateCleaningUp        JobState = "cleaning_up"
	JobStateDone              JobState = "done"
)

var jobTransitions = map[JobState][]JobState{
	JobStatePending:           {JobStateStaging, JobStateFailed},
	JobStateStaging:           {JobStateSpecBuilt, JobStateFailed},
	JobStateSpecBuilt:         {JobStateContainerStarting, JobStateFailed},
	JobStateContainerStarting: {JobStateRunning, JobStateFailed},
	JobStateRunning:           {JobStateCompleted, JobStateTimedOut, JobStateFailed},
	JobStateCompleted:         {JobStateCleaningUp},
	JobStateTimedOut:          {JobStateCleaningUp},
	JobStateFailed:            {JobStateCleaningUp},
	JobStateCleaningUp:        {JobStateDone},
}

// Terminal returns true for the states that end the execution (before cleanup).
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateTimedOut || s == JobStateFailed
}

// CanTransition returns true if the state machine allows going from s to to.
func (s JobState) CanTransition(to JobState) bool {
	for _, st := range jobTransitions[s] {
		if st == to {
			return true
		}
	}
	return false
}

// Job is the unit the orchestrator tracks per execution request.
type Job struct {
	ID      string
	Request ExecutionRequest
	Spec    *ContainerSpec
	// ContainerName is set before the container is created so a partially created
	// container can still be removed.
	ContainerName string
	// ContainerID is the runtime assigned ID, empty until the container is created.
	ContainerID string
	State       JobState
	History     []JobState
	AcceptedAt  time.Time
	Deadline    time.Time
	Staging     *Staging
	Result      *ExecutionResult
}

// NewJob returns a new pending job accepted at the received time.
func NewJob(id string, req ExecutionRequest, acceptedAt time.Time) *Job {
	return &Job{
		ID:         id,
		Request:    req,
		State:      JobStatePending,
		History:    []JobState{JobStatePending},
		AcceptedAt: acceptedAt,
		Deadline:   acceptedAt.Add(req.Timeout),
	}
}

// Transition moves the job to a new state.
func (j *Job) Transition(to JobState) error {
	if !j.State.CanTransition(to) {
		return fmt.Errorf("job %s can't transition from %s to %s: %w", j.ID, j.State, to, ErrNotValid)
	}

	j.State = to
	j.History = append(j.History, to)
	return nil
}

// Copy returns a copy of the job safe to share outside its owner.
func (j Job) Copy() Job {
	j.History = append([]JobState(nil), j.History...)
	if j.Spec != nil {
		spec := *j.Spec
		j.Spec = &spec
	}
	if j.Staging != nil {
		staging := *j.Staging
		staging.Files = append([]StagedFile(nil), staging.Files...)
		j.Staging = &staging
	}
	if j.Result != nil {
		result := *j.Result
		j.Result = &result
	}
	return j
}
