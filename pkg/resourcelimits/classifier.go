package resourcelimits

import (
	"regexp"
	"syscall"
	"time"
)

// TerminalStatus is what the parent can observe about a reaped child.
type TerminalStatus struct {
	// Exited is true for a normal exit; ExitCode is then meaningful.
	Exited   bool
	ExitCode int

	// Signaled is true when a signal terminated the child.
	Signaled bool
	Signal   syscall.Signal

	// KilledBySupervisor marks a SIGKILL delivered by the timeout
	// escalation rather than by the kernel or the target itself.
	KilledBySupervisor bool
}

// Code is the exit code reported to callers: the exit status for a normal
// exit, the negated signal number for a signaled child, -1 otherwise.
func (s TerminalStatus) Code() int {
	switch {
	case s.Exited:
		return s.ExitCode
	case s.Signaled:
		return -int(s.Signal)
	}
	return -1
}

// Classify maps a terminal status to a violation: attributable signals
// first, then normal exit, then anything else.
func Classify(status TerminalStatus) Violation {
	if status.Signaled {
		if status.KilledBySupervisor && status.Signal == syscall.SIGKILL {
			return ViolationNone
		}
		if v := signalViolation(status.Signal); v != ViolationUnknown {
			return v
		}
	}
	if status.Exited {
		return ViolationNone
	}
	return ViolationUnknown
}

// Evidence is secondary information gathered after the reap, used to
// attribute outcomes that the terminal status alone cannot explain.
type Evidence struct {
	Status  TerminalStatus
	CPUTime time.Duration
	Stderr  string
	Profile Profile
}

var (
	forkFailurePattern  = regexp.MustCompile(`(?i)resource temporarily unavailable|fork: retry|cannot fork|can't fork|fork failed`)
	allocFailurePattern = regexp.MustCompile(`(?i)memory exhausted|out of memory|cannot allocate memory|memoryerror|bad_alloc|out of space`)
)

// Refine revisits a classification with secondary evidence.
// Process-count violations surface as failed spawns inside the child, so
// they can only be inferred from what the child printed.
// A clean zero exit is never refined.
func Refine(v Violation, evidence Evidence) Violation {
	status := evidence.Status
	if status.Exited && status.ExitCode == 0 {
		return v
	}

	if v == ViolationMemoryLimit && !status.KilledBySupervisor && evidence.Profile.HasCPULimit() &&
		evidence.CPUTime >= evidence.Profile.CPULimit() {
		// The hard CPU limit is delivered as SIGKILL one second after SIGXCPU.
		return ViolationCPULimit
	}

	if v != ViolationNone && v != ViolationUnknown {
		return v
	}
	if status.KilledBySupervisor {
		return v
	}
	if !status.Exited && !isAbortClass(status.Signal) {
		return v
	}

	if evidence.Profile.MaxProcesses > 0 && forkFailurePattern.MatchString(evidence.Stderr) {
		return ViolationProcessLimit
	}
	if allocFailurePattern.MatchString(evidence.Stderr) {
		return ViolationMemoryLimit
	}
	return v
}
