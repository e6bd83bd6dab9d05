package model

import (
	"errors"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrUnknownTask    = errors.New("unknown task")
	ErrAlreadyRunning = errors.New("job already running")
	ErrNotRunning     = errors.New("job not running")
	ErrInvalidJob     = errors.New("invalid job")
	ErrInvalidTask    = errors.New("invalid task")
	ErrCancelled      = errors.New("cancelled")
)

// Exit codes reported for stages which did not produce a real one.
const (
	ExitLaunchFailed = -1
	ExitCancelled    = -2
)

// LaunchError means the external executable could not be started.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return "launching " + e.Path + ": " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
