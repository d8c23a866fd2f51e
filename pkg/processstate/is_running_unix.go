//go:build !windows

package processstate

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// IsProcessRunning reports whether pid names a live (or zombie) process.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid PID: %d", pid)
	}

	// On Unix, FindProcess always succeeds; signal 0 is the existence probe.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}
	return probe(process.Signal(syscall.Signal(0)))
}

// IsGroupAlive reports whether any process is still a member of pgid.
func IsGroupAlive(pgid int) (bool, error) {
	if pgid <= 1 {
		return false, fmt.Errorf("invalid process group: %d", pgid)
	}
	return probe(syscall.Kill(-pgid, syscall.Signal(0)))
}

func probe(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false, nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false, err
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		return true, nil
	}
	return false, err
}
