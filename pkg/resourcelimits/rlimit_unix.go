//go:build !windows

package resourcelimits

import (
	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
)

// Rlimit is one setrlimit call derived from a profile.
type Rlimit struct {
	Resource int
	Name     string
	Cur      uint64
	Max      uint64
}

const rlimInfinity = uint64(unix.RLIM_INFINITY)

// Plan translates a profile into setrlimit calls. The address-space limit
// comes late so the calling process allocates as little as possible while
// it is already constrained. The process limit comes last: once it is in
// force the runtime may be unable to start threads, so it must sit right
// before the exec.
func Plan(p Profile) []Rlimit {
	plan := []Rlimit{
		{Resource: unix.RLIMIT_CORE, Name: "RLIMIT_CORE", Cur: 0, Max: 0},
		{Resource: unix.RLIMIT_FSIZE, Name: "RLIMIT_FSIZE", Cur: clampRlimit(p.FileSizeBytes), Max: clampRlimit(p.FileSizeBytes)},
	}
	if p.CPUSeconds != nil {
		plan = append(plan, cpuRlimit(*p.CPUSeconds))
	}
	return append(plan,
		Rlimit{Resource: unix.RLIMIT_AS, Name: "RLIMIT_AS", Cur: clampRlimit(p.MemoryBytes), Max: clampRlimit(p.MemoryBytes)},
		Rlimit{Resource: unix.RLIMIT_NPROC, Name: "RLIMIT_NPROC", Cur: clampRlimit(p.MaxProcesses), Max: clampRlimit(p.MaxProcesses)},
	)
}

// cpuRlimit sets the soft limit, which raises SIGXCPU, one second below the
// hard limit, which is SIGKILL. Ceilings at the top of the range become
// unlimited instead of wrapping.
func cpuRlimit(seconds uint64) Rlimit {
	limit := Rlimit{Resource: unix.RLIMIT_CPU, Name: "RLIMIT_CPU", Cur: seconds, Max: seconds + 1}
	if seconds >= rlimInfinity-1 {
		limit.Cur = clampRlimit(seconds)
		limit.Max = rlimInfinity
	}
	return limit
}

func clampRlimit(value uint64) uint64 {
	if value > rlimInfinity {
		return rlimInfinity
	}
	return value
}

// Apply sets every limit of the profile on the calling process, stopping at
// the first failure. It is meant to run in the sandbox init helper right
// before exec, never in the supervisor.
func Apply(p Profile) error {
	if err := Validate(p); err != nil {
		return err
	}
	for _, limit := range Plan(p) {
		rlim := unix.Rlimit{Cur: limit.Cur, Max: limit.Max}
		if err := unix.Setrlimit(limit.Resource, &rlim); err != nil {
			return errors.NewLaunchError("failed to set "+limit.Name, err).
				WithContext("cur", limit.Cur).
				WithContext("max", limit.Max)
		}
	}
	return nil
}
