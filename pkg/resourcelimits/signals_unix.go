//go:build !windows

package resourcelimits

import "syscall"

// signalViolation attributes a terminating signal to a ceiling.
// SIGKILL is what the OOM killer delivers; SIGSEGV/SIGBUS is a best-effort
// guess, since an allocation failure often surfaces as a bad dereference.
func signalViolation(sig syscall.Signal) Violation {
	switch sig {
	case syscall.SIGXCPU:
		return ViolationCPULimit
	case syscall.SIGKILL:
		return ViolationMemoryLimit
	case syscall.SIGXFSZ:
		return ViolationFileSizeLimit
	case syscall.SIGSEGV, syscall.SIGBUS:
		return ViolationMemoryCorruption
	default:
		return ViolationUnknown
	}
}

func isAbortClass(sig syscall.Signal) bool {
	return sig == syscall.SIGABRT
}
