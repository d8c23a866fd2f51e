//go:build windows

package process

import (
	"os"
	"os/exec"
	"time"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

func checkPlatform() error {
	return errors.NewLaunchError("sandboxed execution is not supported on windows", nil)
}

func setupProcessAttributes(*exec.Cmd) {}

func killGroup(pgid int) error {
	return errors.NewProcessError("process groups are not supported on windows", nil).WithContext("pgid", pgid)
}

func drainGroup(int, time.Duration) error {
	return nil
}

func terminalStatusOf(state *os.ProcessState) resourcelimits.TerminalStatus {
	return resourcelimits.TerminalStatus{Exited: state.Exited(), ExitCode: state.ExitCode()}
}
