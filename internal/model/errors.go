package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
)

// ErrorKind classifies execution failures.
type ErrorKind string

const (
	// ErrorKindValidation is a malformed request, rejected before reaching the orchestrator.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindDownload is a ref file staging failure.
	ErrorKindDownload ErrorKind = "download"
	// ErrorKindInfrastructure is a container runtime failure.
	ErrorKindInfrastructure ErrorKind = "infrastructure"
	// ErrorKindTimeout is the wall-clock budget being exceeded.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindInternal is an unexpected orchestration failure.
	ErrorKindInternal ErrorKind = "internal"
)

// ExecutionError is a classified execution failure.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
	// URL is the offending ref file URL on download errors.
	URL string
	Err error
}

// NewExecutionError returns a new execution error of the kind, the message is taken from the cause.
func NewExecutionError(kind ErrorKind, err error) *ExecutionError {
	e := &ExecutionError{Kind: kind, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ServiceFailure returns true when the error means the service itself can't work, and not
// that the submitted code failed.
func (e *ExecutionError) ServiceFailure() bool {
	return e.Kind == ErrorKindInfrastructure || e.Kind == ErrorKindInternal
}
