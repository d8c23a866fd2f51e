package process

import (
	"os"

	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

// The launcher re-executes its own binary as a short-lived init helper. The
// helper applies the ceilings to itself and then replaces its image with
// the target, so limits are in force before the target's first instruction.
const (
	sandboxInitEnv  = "HSU_SANDBOX_INIT"
	sandboxInitName = "hsu-sandbox-init"

	// statusFD is the first ExtraFiles slot. The helper writes a failure
	// message there; a clean close on exec means the target is running.
	statusFD = 3

	initFailureExitCode = 127
)

type initRequest struct {
	Path    string                 `json:"path"`
	Argv    []string               `json:"argv"`
	Env     []string               `json:"env"`
	Profile resourcelimits.Profile `json:"profile"`
}

// MaybeRunSandboxInit turns the current process into the init helper when
// it was started by a Launcher, and never returns in that case. Binaries
// that launch sandboxed processes must call it first thing in main (and in
// TestMain for test binaries).
func MaybeRunSandboxInit() {
	encoded, ok := os.LookupEnv(sandboxInitEnv)
	if !ok {
		return
	}
	os.Exit(runSandboxInit(encoded))
}
