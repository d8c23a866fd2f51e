//go:build !windows

package process

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"

	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

func runSandboxInit(encoded string) int {
	status := os.NewFile(statusFD, "sandbox-status")
	if status == nil {
		return initFailureExitCode
	}
	// The target must not inherit the status pipe.
	unix.CloseOnExec(statusFD)

	fail := func(format string, args ...interface{}) int {
		_, _ = status.WriteString(fmt.Sprintf(format, args...))
		return initFailureExitCode
	}

	var req initRequest
	if err := json.Unmarshal([]byte(encoded), &req); err != nil {
		return fail("invalid init request: %v", err)
	}
	if req.Path == "" {
		return fail("invalid init request: empty executable path")
	}
	argv := req.Argv
	if len(argv) == 0 {
		argv = []string{req.Path}
	}

	// Everything the exec needs is allocated above. Once the address-space
	// ceiling is in place the runtime must not grow the heap.
	debug.SetGCPercent(-1)

	if err := resourcelimits.Apply(req.Profile); err != nil {
		return fail("%v", err)
	}

	err := unix.Exec(req.Path, argv, req.Env)
	return fail("exec %s: %v", req.Path, err)
}
