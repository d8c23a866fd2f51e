//go:build windows

package processstate

import "errors"

var errUnsupported = errors.New("process probing requires a POSIX host")

func IsProcessRunning(pid int) (bool, error) {
	return false, errUnsupported
}

func IsGroupAlive(pgid int) (bool, error) {
	return false, errUnsupported
}
