package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrRestartRequired means the job cannot finish and a new StartJob is needed.
	ErrRestartRequired = errors.New("report must be restarted")
	// ErrNotReady is returned for page and download requests before completion.
	ErrNotReady = errors.New("report is not ready")
	// ErrIndexIncomplete means the index does not cover every CSV row. It is
	// returned together with ErrRestartRequired.
	ErrIndexIncomplete = errors.New("report index is incomplete")
	// ErrPageOutOfRange is returned for pages past the end of the report.
	ErrPageOutOfRange = errors.New("page out of range")
)

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// LaunchError means the job was created but its worker could not be started.
type LaunchError struct {
	JobID string
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch job %s: %v", e.JobID, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// RuntimeError reports a job that ended in error.
type RuntimeError struct {
	JobID   string
	Message string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

func (e *RuntimeError) Unwrap() error { return ErrRestartRequired }

// StaleJobError reports a job that stopped making progress or lost its
// artifacts.
type StaleJobError struct {
	JobID  string
	Reason string
}

func (e *StaleJobError) Error() string {
	return fmt.Sprintf("job %s is stale: %s", e.JobID, e.Reason)
}

func (e *StaleJobError) Unwrap() error { return ErrRestartRequired }
