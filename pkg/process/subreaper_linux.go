//go:build linux

package process

import (
	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
)

// EnableSubreaper makes the calling process the reaper for orphaned
// descendants, so group members that outlive the target can be reaped by
// DrainGroup instead of by init.
func EnableSubreaper() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return errors.NewInternalError("failed to become child subreaper", err)
	}
	return nil
}
