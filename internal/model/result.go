package model

import (
	"time"
)

// ExitExecutor is the sentinel exit code meaning the executor intervened:
// timeout, spawn failure or an internal error. A child process cannot report
// it through the normal wait path.
const ExitExecutor = -1

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// ExecutionResult is produced exactly once per execution and is immutable
// after return. Duration is measured on the monotonic clock.
type ExecutionResult struct {
	RunID    string
	JobName  string
	Status   Status
	ExitCode int
	Started  time.Time
	Stopped  time.Time
	Duration time.Duration
	LogPath  string
}

// StatusFor maps an exit code to the terminal status: zero and only zero
// means success.
func StatusFor(exitCode int) Status {
	if exitCode == 0 {
		return StatusSuccess
	}
	return StatusFailed
}
