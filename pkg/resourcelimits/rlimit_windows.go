//go:build windows

package resourcelimits

import "github.com/core-tools/hsu-sandbox/pkg/errors"

// Rlimit is one setrlimit call derived from a profile.
type Rlimit struct {
	Resource int
	Name     string
	Cur      uint64
	Max      uint64
}

func Plan(p Profile) []Rlimit {
	return nil
}

func Apply(p Profile) error {
	return errors.NewLaunchError("resource limits require a POSIX host", nil)
}
