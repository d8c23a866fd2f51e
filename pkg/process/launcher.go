package process

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/core-tools/hsu-sandbox/pkg/audit"
	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/logging"
	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

const (
	DefaultPipeDrainDelay = 1 * time.Second
	DefaultDrainTimeout   = 5 * time.Second
)

type LauncherConfig struct {
	// InitPath is the binary re-executed as the init helper. Empty means
	// the running executable, which must call MaybeRunSandboxInit.
	InitPath string `yaml:"init_path,omitempty"`

	OutputLimitBytes int `yaml:"output_limit_bytes,omitempty"`

	// PipeDrainDelay bounds how long output copying may continue after the
	// target exits while descendants still hold its pipes.
	PipeDrainDelay time.Duration `yaml:"pipe_drain_delay,omitempty"`

	// DrainTimeout bounds the final wait for the process group to vanish.
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`
}

func setLauncherDefaults(config *LauncherConfig) {
	if config.OutputLimitBytes <= 0 {
		config.OutputLimitBytes = DefaultOutputLimitBytes
	}
	if config.PipeDrainDelay <= 0 {
		config.PipeDrainDelay = DefaultPipeDrainDelay
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
}

// Launcher starts targets in their own process group with the resource
// ceilings applied before the target image runs.
type Launcher struct {
	config LauncherConfig
	logger logging.Logger
	sink   audit.Sink
}

func NewLauncher(config LauncherConfig, logger logging.Logger, sink audit.Sink) *Launcher {
	setLauncherDefaults(&config)
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if sink == nil {
		sink = audit.NewNopSink()
	}
	return &Launcher{
		config: config,
		logger: logging.Component(logger, "launcher"),
		sink:   sink,
	}
}

// Launch validates the request, starts the target under profile and
// returns once the target image is executing. Every failure before that
// point is a NotFound, NotExecutable, Validation or Launch error and
// leaves no process behind.
func (l *Launcher) Launch(executionID string, req *ExecutionRequest, profile resourcelimits.Profile) (*Handle, error) {
	if err := checkPlatform(); err != nil {
		return nil, err
	}
	if err := ValidateRequest(req); err != nil {
		l.logger.Warnf("Launch preconditions failed, id: %s, error: %v", executionID, err)
		return nil, err
	}
	if err := resourcelimits.Validate(profile); err != nil {
		return nil, err
	}

	absPath, workDir, err := resolveWorkingDirectory(req)
	if err != nil {
		return nil, err
	}
	initPath, err := l.initPath()
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(initRequest{
		Path:    absPath,
		Argv:    append([]string{absPath}, req.Arguments()...),
		Env:     req.Environ(),
		Profile: profile,
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode init request", err).WithContext("id", executionID)
	}

	statusRead, statusWrite, err := os.Pipe()
	if err != nil {
		return nil, errors.NewLaunchError("failed to create status pipe", err).WithContext("id", executionID)
	}

	stdout := NewOutputBuffer(l.config.OutputLimitBytes)
	stderr := NewOutputBuffer(l.config.OutputLimitBytes)

	cmd := &exec.Cmd{
		Path:       initPath,
		Args:       []string{sandboxInitName},
		Env:        []string{sandboxInitEnv + "=" + string(encoded)},
		Dir:        workDir,
		Stdout:     stdout,
		Stderr:     stderr,
		ExtraFiles: []*os.File{statusWrite},
		WaitDelay:  l.config.PipeDrainDelay,
	}
	if stdin := req.Stdin(); stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	setupProcessAttributes(cmd)

	l.logger.Debugf("Launching, id: %s, command: %s, working directory: '%s', profile: %s",
		executionID, req.CommandLine(), workDir, profile)

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		closeErr := multierr.Combine(statusRead.Close(), statusWrite.Close())
		return nil, errors.NewLaunchError("failed to start the process", multierr.Append(err, closeErr)).
			WithContext("id", executionID).WithContext("path", absPath)
	}
	_ = statusWrite.Close()

	// Blocks until the helper either reports a failure or execs the target.
	failure, readErr := io.ReadAll(statusRead)
	_ = statusRead.Close()
	if len(failure) > 0 || readErr != nil {
		waitErr := cmd.Wait()
		message := strings.TrimSpace(string(failure))
		if message == "" {
			message = "failed to read launch status"
		}
		l.logger.Errorf("Launch failed, id: %s, path: '%s', error: %s", executionID, absPath, message)
		return nil, errors.NewLaunchError(message, multierr.Combine(readErr, waitErr)).
			WithContext("id", executionID).WithContext("path", absPath)
	}

	handle := newHandle(executionID, cmd, startedAt, stdout, stderr, l.config.DrainTimeout, l.logger)

	l.logger.Infof("Launched, id: %s, PID: %d, PGID: %d", executionID, handle.PID(), handle.PGID())
	limits := profile.Clone()
	if err := audit.Record(l.sink, audit.Event{
		Kind:        audit.EventKindLaunch,
		ExecutionID: executionID,
		Time:        startedAt,
		Path:        absPath,
		Args:        req.Arguments(),
		Profile:     &limits,
		PID:         handle.PID(),
		PGID:        handle.PGID(),
	}); err != nil {
		l.logger.Errorf("Failed to record launch event, id: %s, error: %v", executionID, err)
	}
	return handle, nil
}

func (l *Launcher) initPath() (string, error) {
	if l.config.InitPath != "" {
		return l.config.InitPath, nil
	}
	path, err := os.Executable()
	if err != nil {
		return "", errors.NewLaunchError("failed to locate init helper", err)
	}
	return path, nil
}
