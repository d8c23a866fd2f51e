//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/processstate"
	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

const drainPollInterval = 10 * time.Millisecond

func checkPlatform() error {
	return nil
}

// setupProcessAttributes puts the helper, and so the target it becomes,
// in a fresh process group that can be signalled as a whole.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func killGroup(pgid int) error {
	if pgid <= 1 {
		return errors.NewValidationError("refusing to signal process group", nil).WithContext("pgid", pgid)
	}
	if pgid == unix.Getpgrp() {
		return errors.NewValidationError("refusing to signal own process group", nil).WithContext("pgid", pgid)
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return errors.NewProcessError("failed to kill process group", err).WithContext("pgid", pgid)
	}
	return nil
}

// drainGroup loops reap, probe, kill until the group is gone. Members
// reparented to us as subreaper are reaped here; others are left to init.
func drainGroup(pgid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		reapGroup(pgid)

		alive, err := processstate.IsGroupAlive(pgid)
		if err != nil {
			return errors.NewProcessError("failed to probe process group", err).WithContext("pgid", pgid)
		}
		if !alive {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.NewTimeoutError("process group still present after drain", nil).
				WithContext("pgid", pgid).WithContext("timeout", timeout.String())
		}
		if err := killGroup(pgid); err != nil {
			return err
		}
		time.Sleep(drainPollInterval)
	}
}

func reapGroup(pgid int) {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-pgid, &status, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			return
		}
	}
}

func terminalStatusOf(state *os.ProcessState) resourcelimits.TerminalStatus {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return resourcelimits.TerminalStatus{Exited: state.Exited(), ExitCode: state.ExitCode()}
	}
	status := resourcelimits.TerminalStatus{}
	switch {
	case ws.Exited():
		status.Exited = true
		status.ExitCode = ws.ExitStatus()
	case ws.Signaled():
		status.Signaled = true
		status.Signal = ws.Signal()
	}
	return status
}
