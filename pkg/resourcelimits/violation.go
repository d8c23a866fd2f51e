package resourcelimits

import "fmt"

// Violation names the resource ceiling presumed responsible for a
// termination. The set is closed.
type Violation string

const (
	ViolationNone             Violation = "none"
	ViolationCPULimit         Violation = "cpu_limit"
	ViolationMemoryLimit      Violation = "memory_limit"
	ViolationFileSizeLimit    Violation = "file_size_limit"
	ViolationProcessLimit     Violation = "process_limit"
	ViolationMemoryCorruption Violation = "memory_corruption"
	ViolationUnknown          Violation = "unknown"
)

// Violations lists every member of the enum in a stable order.
func Violations() []Violation {
	return []Violation{
		ViolationNone,
		ViolationCPULimit,
		ViolationMemoryLimit,
		ViolationFileSizeLimit,
		ViolationProcessLimit,
		ViolationMemoryCorruption,
		ViolationUnknown,
	}
}

// IsValid reports whether v is a member of the enum
func (v Violation) IsValid() bool {
	switch v {
	case ViolationNone, ViolationCPULimit, ViolationMemoryLimit, ViolationFileSizeLimit,
		ViolationProcessLimit, ViolationMemoryCorruption, ViolationUnknown:
		return true
	}
	return false
}

func (v Violation) String() string {
	return string(v)
}

func (v Violation) MarshalText() ([]byte, error) {
	if !v.IsValid() {
		return nil, fmt.Errorf("invalid violation: %q", string(v))
	}
	return []byte(v), nil
}

func (v *Violation) UnmarshalText(text []byte) error {
	parsed := Violation(text)
	if !parsed.IsValid() {
		return fmt.Errorf("invalid violation: %q", string(text))
	}
	*v = parsed
	return nil
}
