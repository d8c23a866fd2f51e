// Package sandbox runs one untrusted executable per request under resource
// and wall-clock ceilings and reports how it ended.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/core-tools/hsu-sandbox/pkg/audit"
	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/logging"
	"github.com/core-tools/hsu-sandbox/pkg/process"
	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
	"github.com/core-tools/hsu-sandbox/pkg/supervisor"
	"github.com/core-tools/hsu-sandbox/pkg/telemetry"
)

const contextExecutionID = "execution_id"

type Config struct {
	Launcher   process.LauncherConfig `yaml:"launcher"`
	Supervisor supervisor.Config      `yaml:"supervisor"`
}

type Executor struct {
	launcher    *process.Launcher
	supervisor  *supervisor.Supervisor
	sink        audit.Sink
	logger      logging.Logger
	instruments *telemetry.Instruments
	newID       func() string
}

type Option func(*Executor)

func WithInstruments(instruments *telemetry.Instruments) Option {
	return func(e *Executor) {
		e.instruments = instruments
	}
}

// WithIDGenerator replaces the UUID generator for execution ids.
func WithIDGenerator(newID func() string) Option {
	return func(e *Executor) {
		e.newID = newID
	}
}

func NewExecutor(config Config, logger logging.Logger, sink audit.Sink, opts ...Option) *Executor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if sink == nil {
		sink = audit.NewNopSink()
	}
	e := &Executor{
		launcher:   process.NewLauncher(config.Launcher, logger, sink),
		supervisor: supervisor.NewSupervisor(config.Supervisor, logger),
		sink:       sink,
		logger:     logging.Component(logger, "executor"),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.instruments == nil {
		e.instruments = telemetry.NewInstruments()
	}
	return e
}

// Execute launches the request under profile, supervises it against the
// profile's wall clock and classifies the outcome. Anything the target
// does yields a result; an error means no result could be produced, and is
// always a *errors.DomainError. Panics are recovered into internal errors.
func (e *Executor) Execute(ctx context.Context, req *process.ExecutionRequest, profile resourcelimits.Profile) (result *ExecutionResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var executionID string
	var span trace.Span

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.NewInternalError(fmt.Sprintf("panic during execution: %v", r), nil)
		}
		if err != nil {
			domainErr := errors.AsDomainError(err)
			if executionID != "" {
				domainErr.WithContext(contextExecutionID, executionID)
			}
			err = domainErr
			e.fail(ctx, span, executionID, req, profile, domainErr)
		}
		if span != nil {
			span.End()
		}
	}()

	executionID = e.newID()
	path := ""
	if req != nil {
		path = req.ExecutablePath()
	}
	ctx, span = e.instruments.StartExecution(ctx, executionID, path)

	if req == nil {
		return nil, errors.NewValidationError("execution request cannot be nil", nil)
	}

	handle, err := e.launcher.Launch(executionID, req, profile)
	if err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := handle.Release(); releaseErr != nil {
			e.logger.Warnf("Release failed, id: %s, error: %v", executionID, releaseErr)
		}
	}()

	outcome := e.supervisor.Supervise(handle, profile.WallClock)
	if outcome.WaitErr != nil {
		return nil, outcome.WaitErr
	}
	if outcome.CleanupErr != nil {
		e.logger.Warnf("Cleanup incomplete, id: %s, error: %v", executionID, outcome.CleanupErr)
	}
	if outcome.TimedOut {
		e.record(audit.Event{
			Kind:        audit.EventKindTimeout,
			ExecutionID: executionID,
			Path:        req.ExecutablePath(),
			PID:         handle.PID(),
			PGID:        handle.PGID(),
			Message:     fmt.Sprintf("wall clock limit %s exceeded, escalated: %t", profile.WallClock, outcome.Escalated),
		})
	}

	status, err := handle.TerminalStatus()
	if err != nil {
		return nil, err
	}
	status.KilledBySupervisor = outcome.TimedOut && status.Signaled && status.Signal == syscall.SIGKILL

	stderr := handle.Stderr().String()
	violation := resourcelimits.Classify(status)
	violation = resourcelimits.Refine(violation, resourcelimits.Evidence{
		Status:  status,
		CPUTime: handle.CPUTime(),
		Stderr:  stderr,
		Profile: profile,
	})

	result = &ExecutionResult{
		ExecutionID:       executionID,
		PID:               handle.PID(),
		ExitCode:          status.Code(),
		Stdout:            strings.TrimSpace(handle.Stdout().String()),
		Stderr:            strings.TrimSpace(stderr),
		StdoutTruncated:   handle.Stdout().Truncated(),
		StderrTruncated:   handle.Stderr().Truncated(),
		WallClockDuration: handle.FinishedAt().Sub(handle.StartedAt()),
		CPUTime:           handle.CPUTime(),
		TimedOut:          outcome.TimedOut,
		Violation:         violation,
	}

	e.logger.Infof("Execution finished, id: %s, PID: %d, exit code: %d, violation: %s, timed out: %t, duration: %s",
		executionID, result.PID, result.ExitCode, result.Violation, result.TimedOut, result.WallClockDuration)
	e.record(audit.Event{
		Kind:        audit.EventKindResult,
		ExecutionID: executionID,
		Path:        req.ExecutablePath(),
		PID:         result.PID,
		PGID:        handle.PGID(),
		Outcome: &audit.Outcome{
			ExitCode:          result.ExitCode,
			TimedOut:          result.TimedOut,
			Violation:         result.Violation,
			WallClockDuration: result.WallClockDuration,
			CPUTime:           result.CPUTime,
		},
	})
	e.instruments.RecordResult(ctx, span, telemetry.ExecutionRecord{
		PID:       result.PID,
		ExitCode:  result.ExitCode,
		TimedOut:  result.TimedOut,
		Violation: result.Violation,
		WallClock: result.WallClockDuration,
		CPUTime:   result.CPUTime,
	})
	return result, nil
}

func (e *Executor) fail(ctx context.Context, span trace.Span, executionID string, req *process.ExecutionRequest,
	profile resourcelimits.Profile, err *errors.DomainError) {
	var path string
	var args []string
	if req != nil {
		path = req.ExecutablePath()
		args = req.Arguments()
	}

	e.logger.Errorf("Execution failed, id: %s, path: '%s', args: %v, profile: %s, error: %v",
		executionID, path, args, profile, err)
	limits := profile.Clone()
	e.record(audit.Event{
		Kind:        audit.EventKindFailure,
		ExecutionID: executionID,
		Path:        path,
		Args:        args,
		Profile:     &limits,
		Error:       err.Error(),
	})
	if span == nil {
		span = trace.SpanFromContext(ctx)
	}
	e.instruments.RecordFailure(ctx, span, string(err.Type), err)
}

func (e *Executor) record(event audit.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if err := audit.Record(e.sink, event); err != nil {
		e.logger.Errorf("Failed to record audit event, id: %s, error: %v", event.ExecutionID, err)
	}
}
