package sandbox

import (
	"time"

	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

// ExecutionResult is produced exactly once per request that reached the
// target. Misbehaviour of the target is reported here, never as an error.
type ExecutionResult struct {
	ExecutionID string
	PID         int
	// ExitCode is the target's exit status, or the negated signal number
	// when a signal terminated it.
	ExitCode int

	// Stdout and Stderr are whitespace-trimmed.
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool

	WallClockDuration time.Duration
	CPUTime           time.Duration
	TimedOut          bool
	Violation         resourcelimits.Violation
}
