package resourcelimits

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
)

// Built-in ceilings used when no configuration can be resolved.
const (
	DefaultMemoryBytes   uint64        = 64 * 1024 * 1024
	DefaultCPUSeconds    uint64        = 30
	DefaultFileSizeBytes uint64        = 10 * 1024 * 1024
	DefaultMaxProcesses  uint64        = 5
	DefaultWallClock     time.Duration = 5 * time.Second
)

// Profile is the set of ceilings one execution runs under.
// A nil CPUSeconds leaves CPU time unconstrained; every other field must be set.
type Profile struct {
	MemoryBytes   uint64        `yaml:"memory_bytes" json:"memory_bytes"`
	CPUSeconds    *uint64       `yaml:"cpu_seconds,omitempty" json:"cpu_seconds,omitempty"`
	FileSizeBytes uint64        `yaml:"file_size_bytes" json:"file_size_bytes"`
	MaxProcesses  uint64        `yaml:"max_processes" json:"max_processes"`
	WallClock     time.Duration `yaml:"wall_clock" json:"wall_clock"`
}

// DefaultProfile returns the built-in profile.
func DefaultProfile() Profile {
	return Profile{
		MemoryBytes:   DefaultMemoryBytes,
		CPUSeconds:    CPUSeconds(DefaultCPUSeconds),
		FileSizeBytes: DefaultFileSizeBytes,
		MaxProcesses:  DefaultMaxProcesses,
		WallClock:     DefaultWallClock,
	}
}

// CPUSeconds is a helper for filling the optional CPU ceiling.
func CPUSeconds(seconds uint64) *uint64 {
	return &seconds
}

// HasCPULimit reports whether a CPU ceiling is configured.
func (p Profile) HasCPULimit() bool {
	return p.CPUSeconds != nil
}

// CPULimit returns the CPU ceiling, or zero when CPU is unconstrained.
// Ceilings beyond the range of time.Duration saturate.
func (p Profile) CPULimit() time.Duration {
	if p.CPUSeconds == nil {
		return 0
	}
	if *p.CPUSeconds > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(*p.CPUSeconds) * time.Second
}

// WithCPUSeconds returns a copy with the CPU ceiling replaced.
func (p Profile) WithCPUSeconds(seconds uint64) Profile {
	p.CPUSeconds = CPUSeconds(seconds)
	return p
}

// Clone returns a deep copy, so the optional CPU ceiling is not shared.
func (p Profile) Clone() Profile {
	if p.CPUSeconds != nil {
		p.CPUSeconds = CPUSeconds(*p.CPUSeconds)
	}
	return p
}

func (p Profile) String() string {
	cpu := "unlimited"
	if p.CPUSeconds != nil {
		cpu = fmt.Sprintf("%ds", *p.CPUSeconds)
	}
	return fmt.Sprintf("memory=%s cpu=%s file_size=%s processes=%d wall_clock=%s",
		humanize.IBytes(p.MemoryBytes), cpu, humanize.IBytes(p.FileSizeBytes), p.MaxProcesses, p.WallClock)
}

// Validate checks that every present ceiling is positive
func Validate(p Profile) error {
	var problems []string

	if p.MemoryBytes == 0 {
		problems = append(problems, "memory limit must be positive")
	}
	if p.CPUSeconds != nil && *p.CPUSeconds == 0 {
		problems = append(problems, "CPU time limit must be positive when set")
	}
	if p.FileSizeBytes == 0 {
		problems = append(problems, "file size limit must be positive")
	}
	if p.MaxProcesses == 0 {
		problems = append(problems, "process limit must be positive")
	}
	if p.WallClock <= 0 {
		problems = append(problems, "wall clock limit must be positive")
	}

	if len(problems) > 0 {
		return errors.NewValidationError(strings.Join(problems, "; "), nil).WithContext("profile", p.String())
	}
	return nil
}
