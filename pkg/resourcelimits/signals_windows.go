//go:build windows

package resourcelimits

import "syscall"

// Windows has no resource-limit signals.
func signalViolation(sig syscall.Signal) Violation {
	return ViolationUnknown
}

func isAbortClass(sig syscall.Signal) bool {
	return sig == syscall.SIGABRT
}
