//go:build !windows

package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-sandbox/pkg/audit"
	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/process"
	"github.com/core-tools/hsu-sandbox/pkg/processstate"
	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
	"github.com/core-tools/hsu-sandbox/pkg/supervisor"
)

func TestMain(m *testing.M) {
	process.MaybeRunSandboxInit()
	_ = process.EnableSubreaper()
	os.Exit(m.Run())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

// testProfile keeps the default ceilings except where /bin/sh and coreutils
// need headroom. RLIMIT_NPROC counts every process of the user.
func testProfile() resourcelimits.Profile {
	profile := resourcelimits.DefaultProfile()
	profile.MemoryBytes = 256 << 20
	profile.MaxProcesses = 4096
	profile.WallClock = 10 * time.Second
	return profile
}

func newTestExecutor(sink audit.Sink) *Executor {
	return NewExecutor(Config{
		Launcher: process.LauncherConfig{DrainTimeout: 2 * time.Second},
	}, nil, sink)
}

func execute(t *testing.T, executor *Executor, path string, args []string, profile resourcelimits.Profile) *ExecutionResult {
	t.Helper()
	result, err := executor.Execute(context.Background(), process.NewExecutionRequest(path, args), profile)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestExecute_NormalExit(t *testing.T) {
	sink := audit.NewMemorySink()
	path := writeScript(t, `echo "  hello $1  "; exit 0`)

	result := execute(t, newTestExecutor(sink), path, []string{"world"}, testProfile())

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, resourcelimits.ViolationNone, result.Violation)
	assert.False(t, result.TimedOut)
	assert.Equal(t, "hello world", result.Stdout, "stdout is trimmed")
	assert.Empty(t, result.Stderr)
	assert.NotEmpty(t, result.ExecutionID)
	assert.Positive(t, result.PID)
	assert.Positive(t, result.WallClockDuration)

	assert.Equal(t, []audit.EventKind{audit.EventKindLaunch, audit.EventKindResult}, sink.Kinds())
	events := sink.Events()
	assert.Equal(t, result.ExecutionID, events[1].ExecutionID)
	require.NotNil(t, events[1].Outcome)
	assert.Equal(t, resourcelimits.ViolationNone, events[1].Outcome.Violation)
}

func TestExecute_ExitCodePreserved(t *testing.T) {
	path := writeScript(t, `echo failing >&2; exit 42`)

	result := execute(t, newTestExecutor(nil), path, nil, testProfile())

	assert.Equal(t, 42, result.ExitCode)
	assert.Equal(t, resourcelimits.ViolationNone, result.Violation)
	assert.Equal(t, "failing", result.Stderr)
}

func TestExecute_CPUBusyLoop(t *testing.T) {
	path := writeScript(t, `while :; do :; done`)
	profile := testProfile().WithCPUSeconds(1)

	result := execute(t, newTestExecutor(nil), path, nil, profile)

	assert.False(t, result.TimedOut)
	assert.Equal(t, resourcelimits.ViolationCPULimit, result.Violation)
	assert.Equal(t, -int(syscall.SIGXCPU), result.ExitCode)
	assert.GreaterOrEqual(t, result.CPUTime, 900*time.Millisecond)
}

func TestExecute_MemoryOverAllocation(t *testing.T) {
	if out, err := exec.Command("tail", "--version").Output(); err != nil || !strings.Contains(string(out), "GNU coreutils") {
		t.Skip("needs GNU tail, which reports allocation failure on stderr")
	}
	// tail buffers an endless line until the address-space ceiling stops it.
	path := writeScript(t, `head -c 268435456 /dev/zero | tail -n 1`)
	profile := testProfile()
	profile.MemoryBytes = 64 << 20

	result := execute(t, newTestExecutor(nil), path, nil, profile)

	assert.False(t, result.TimedOut)
	assert.NotEqual(t, 0, result.ExitCode)
	assert.Equal(t, resourcelimits.ViolationMemoryLimit, result.Violation)
	assert.Contains(t, result.Stderr, "memory exhausted")
}

func TestExecute_FileSizeLimit(t *testing.T) {
	path := writeScript(t, `exec head -c 2097152 /dev/zero > "$1"`)
	profile := testProfile()
	profile.FileSizeBytes = 1 << 20
	output := filepath.Join(t.TempDir(), "big.bin")

	result := execute(t, newTestExecutor(nil), path, []string{output}, profile)

	assert.Equal(t, resourcelimits.ViolationFileSizeLimit, result.Violation)
	assert.Equal(t, -int(syscall.SIGXFSZ), result.ExitCode)

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(1<<20))
}

func TestExecute_FileSizeSignalDirect(t *testing.T) {
	path := writeScript(t, `kill -XFSZ $$`)

	result := execute(t, newTestExecutor(nil), path, nil, testProfile())

	assert.Equal(t, resourcelimits.ViolationFileSizeLimit, result.Violation)
	assert.Equal(t, -int(syscall.SIGXFSZ), result.ExitCode)
}

func TestExecute_MemoryCorruption(t *testing.T) {
	path := writeScript(t, `kill -SEGV $$`)

	result := execute(t, newTestExecutor(nil), path, nil, testProfile())

	assert.Equal(t, resourcelimits.ViolationMemoryCorruption, result.Violation)
	assert.Equal(t, -int(syscall.SIGSEGV), result.ExitCode)
}

func TestExecute_OtherSignalIsUnknown(t *testing.T) {
	path := writeScript(t, `kill -USR1 $$`)

	result := execute(t, newTestExecutor(nil), path, nil, testProfile())

	assert.Equal(t, resourcelimits.ViolationUnknown, result.Violation)
	assert.Equal(t, -int(syscall.SIGUSR1), result.ExitCode)
}

func TestExecute_Timeout(t *testing.T) {
	sink := audit.NewMemorySink()
	path := writeScript(t, `sleep 30`)
	profile := testProfile()
	profile.WallClock = time.Second

	result := execute(t, newTestExecutor(sink), path, nil, profile)

	assert.True(t, result.TimedOut)
	assert.Equal(t, resourcelimits.ViolationNone, result.Violation, "supervisor kill is not a memory kill")
	assert.Equal(t, -int(syscall.SIGKILL), result.ExitCode)
	assert.GreaterOrEqual(t, result.WallClockDuration, profile.WallClock)
	assert.LessOrEqual(t, result.WallClockDuration, profile.WallClock+supervisor.DefaultGrace+500*time.Millisecond)

	alive, err := processstate.IsGroupAlive(result.PID)
	require.NoError(t, err)
	assert.False(t, alive)

	assert.Equal(t, []audit.EventKind{audit.EventKindLaunch, audit.EventKindTimeout, audit.EventKindResult}, sink.Kinds())
}

func TestExecute_MissingTargetIsErrorPayload(t *testing.T) {
	sink := audit.NewMemorySink()
	missing := filepath.Join(t.TempDir(), "nothing-here")

	result, err := newTestExecutor(sink).Execute(context.Background(), process.NewExecutionRequest(missing, nil), testProfile())

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	document := NewPayload(result, err)
	require.True(t, document.IsError())
	assert.Equal(t, "File not found", document.Error.Error)
	assert.NotEmpty(t, document.Error.ExecutionID)

	assert.Equal(t, []audit.EventKind{audit.EventKindFailure}, sink.Kinds())
	failure := sink.Events()[0]
	assert.Equal(t, missing, failure.Path)
	require.NotNil(t, failure.Profile)
	assert.Contains(t, failure.Error, "File not found")
}

func TestExecute_NonExecutableTargetIsErrorPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readme.txt")
	require.NoError(t, os.WriteFile(path, []byte("just text\n"), 0644))

	result, err := newTestExecutor(nil).Execute(context.Background(), process.NewExecutionRequest(path, nil), testProfile())

	assert.Nil(t, result)
	assert.True(t, errors.IsNotExecutableError(err))
	assert.Equal(t, "File not executable", NewPayload(result, err).Error.Error)
}

func TestExecute_WritesThenExitsCleanly(t *testing.T) {
	path := writeScript(t, `printf 'payload bytes\n\n'`)

	result := execute(t, newTestExecutor(nil), path, nil, testProfile())

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, resourcelimits.ViolationNone, result.Violation)
	assert.Equal(t, "payload bytes", result.Stdout)
	assert.False(t, result.StdoutTruncated)
}

func TestExecute_ForkedTermIgnoringChildIsReclaimed(t *testing.T) {
	path := writeScript(t, `trap '' TERM
(trap '' TERM; while :; do :; done) &
while :; do :; done`)
	profile := testProfile()
	profile.WallClock = 2 * time.Second

	start := time.Now()
	result := execute(t, newTestExecutor(nil), path, nil, profile)
	elapsed := time.Since(start)

	assert.True(t, result.TimedOut)
	assert.Less(t, elapsed, 2*time.Second+supervisor.DefaultGrace+time.Second)

	alive, err := processstate.IsGroupAlive(result.PID)
	require.NoError(t, err)
	assert.False(t, alive, "forked busy loop must be gone")
}

func TestExecute_ProcessLimitFromStderr(t *testing.T) {
	path := writeScript(t, `echo "sh: 1: Cannot fork" >&2; exit 2`)

	result := execute(t, newTestExecutor(nil), path, nil, testProfile())

	assert.Equal(t, 2, result.ExitCode)
	assert.Equal(t, resourcelimits.ViolationProcessLimit, result.Violation)
}

func TestExecute_OutputTruncated(t *testing.T) {
	path := writeScript(t, `head -c 4096 /dev/zero | tr '\0' 'x'`)
	executor := NewExecutor(Config{Launcher: process.LauncherConfig{OutputLimitBytes: 1000}}, nil, nil)

	result := execute(t, executor, path, nil, testProfile())

	assert.Len(t, result.Stdout, 1000)
	assert.True(t, result.StdoutTruncated)
	assert.False(t, result.StderrTruncated)
}

func TestExecute_Idempotent(t *testing.T) {
	path := writeScript(t, `echo same; exit 5`)
	executor := newTestExecutor(nil)

	first := execute(t, executor, path, nil, testProfile())
	for i := 0; i < 3; i++ {
		again := execute(t, executor, path, nil, testProfile())
		assert.Equal(t, first.ExitCode, again.ExitCode)
		assert.Equal(t, first.Violation, again.Violation)
		assert.Equal(t, first.Stdout, again.Stdout)
		assert.NotEqual(t, first.ExecutionID, again.ExecutionID)
	}
}

func openDescriptors(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func TestExecute_NoLeak(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("counts /proc/self/fd")
	}
	executor := newTestExecutor(nil)
	exits := writeScript(t, `echo ok`)
	orphans := writeScript(t, `sleep 30 &
echo started`)
	hangs := writeScript(t, `sleep 30`)
	missing := filepath.Join(t.TempDir(), "missing")

	short := testProfile()
	short.WallClock = 200 * time.Millisecond

	// Warm up lazily opened runtime descriptors.
	execute(t, executor, exits, nil, testProfile())
	baseline := openDescriptors(t)

	for i := 0; i < 3; i++ {
		execute(t, executor, exits, nil, testProfile())
		execute(t, executor, orphans, nil, testProfile())
		execute(t, executor, hangs, nil, short)
		_, err := executor.Execute(context.Background(), process.NewExecutionRequest(missing, nil), testProfile())
		require.Error(t, err)
	}

	assert.Equal(t, baseline, openDescriptors(t))

	var status syscall.WaitStatus
	_, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
	assert.ErrorIs(t, err, syscall.ECHILD, "no child processes may remain")
}

func TestExecute_RecoversPanic(t *testing.T) {
	sink := audit.NewMemorySink()
	executor := NewExecutor(Config{}, nil, sink, WithIDGenerator(func() string {
		panic("entropy exhausted")
	}))

	result, err := executor.Execute(context.Background(), process.NewExecutionRequest("/bin/true", nil), testProfile())

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.IsInternalError(err))
	assert.Contains(t, err.Error(), "entropy exhausted")
	assert.Equal(t, []audit.EventKind{audit.EventKindFailure}, sink.Kinds())
}

func TestExecute_NilRequest(t *testing.T) {
	result, err := newTestExecutor(nil).Execute(context.Background(), nil, testProfile())
	assert.Nil(t, result)
	assert.True(t, errors.IsValidationError(err))
}
