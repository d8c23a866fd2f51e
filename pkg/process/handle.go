package process

import (
	stderrors "errors"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/logging"
	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

// Handle is exclusively owned by one execution. The target leads its own
// process group, so PGID equals PID.
type Handle struct {
	executionID  string
	cmd          *exec.Cmd
	pid          int
	pgid         int
	startedAt    time.Time
	stdout       *OutputBuffer
	stderr       *OutputBuffer
	drainTimeout time.Duration
	logger       logging.Logger

	waitOnce   sync.Once
	done       chan struct{}
	waitErr    error
	finishedAt time.Time

	releaseOnce sync.Once
	releaseErr  error
}

func newHandle(executionID string, cmd *exec.Cmd, startedAt time.Time, stdout, stderr *OutputBuffer,
	drainTimeout time.Duration, logger logging.Logger) *Handle {
	pid := cmd.Process.Pid
	return &Handle{
		executionID:  executionID,
		cmd:          cmd,
		pid:          pid,
		pgid:         pid,
		startedAt:    startedAt,
		stdout:       stdout,
		stderr:       stderr,
		drainTimeout: drainTimeout,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

func (h *Handle) ExecutionID() string {
	return h.executionID
}

func (h *Handle) PID() int {
	return h.pid
}

func (h *Handle) PGID() int {
	return h.pgid
}

func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Done is closed once the target has been reaped and its output collected.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait reaps the target. Concurrent and repeated calls share one result.
// A non-zero exit or a signal is not an error here.
func (h *Handle) Wait() error {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()
		h.finishedAt = time.Now()

		var exitErr *exec.ExitError
		switch {
		case err == nil, stderrors.As(err, &exitErr):
		case stderrors.Is(err, exec.ErrWaitDelay):
			h.logger.Debugf("Output pipes held open past exit, id: %s, PID: %d", h.executionID, h.pid)
		default:
			h.waitErr = errors.NewProcessError("failed to wait for process", err).WithContext("pid", h.pid)
		}
		close(h.done)
	})
	<-h.done
	return h.waitErr
}

func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// FinishedAt is the reap time; zero until Wait returns.
func (h *Handle) FinishedAt() time.Time {
	if !h.exited() {
		return time.Time{}
	}
	return h.finishedAt
}

// TerminalStatus is available after Wait.
func (h *Handle) TerminalStatus() (resourcelimits.TerminalStatus, error) {
	if !h.exited() || h.cmd.ProcessState == nil {
		return resourcelimits.TerminalStatus{}, errors.NewProcessError("process has not been reaped", nil).WithContext("pid", h.pid)
	}
	return terminalStatusOf(h.cmd.ProcessState), nil
}

// CPUTime is the user plus system time the kernel charged to the target.
func (h *Handle) CPUTime() time.Duration {
	if !h.exited() || h.cmd.ProcessState == nil {
		return 0
	}
	return h.cmd.ProcessState.UserTime() + h.cmd.ProcessState.SystemTime()
}

func (h *Handle) Stdout() *OutputBuffer {
	return h.stdout
}

func (h *Handle) Stderr() *OutputBuffer {
	return h.stderr
}

// KillGroup sends SIGKILL to the target's whole process group. A group
// that no longer exists is not an error.
func (h *Handle) KillGroup() error {
	return killGroup(h.pgid)
}

// DrainGroup reaps leftover group members and waits, up to the configured
// drain timeout, until the group no longer exists. The target itself must
// already be reaped.
func (h *Handle) DrainGroup() error {
	if !h.exited() {
		return errors.NewProcessError("cannot drain process group before the leader is reaped", nil).WithContext("pgid", h.pgid)
	}
	return drainGroup(h.pgid, h.drainTimeout)
}

// Release kills whatever is left of the group, reaps the target and drains
// the group. It is idempotent.
func (h *Handle) Release() error {
	h.releaseOnce.Do(func() {
		var errs error
		if !h.exited() {
			errs = multierr.Append(errs, h.KillGroup())
		}
		errs = multierr.Append(errs, h.Wait())
		errs = multierr.Append(errs, h.DrainGroup())
		if errs != nil {
			h.logger.Warnf("Release incomplete, id: %s, PGID: %d, error: %v", h.executionID, h.pgid, errs)
		}
		h.releaseErr = errs
	})
	return h.releaseErr
}
