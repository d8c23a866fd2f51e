package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-sandbox/pkg/audit"
	"github.com/core-tools/hsu-sandbox/pkg/config"
	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/logging"
	"github.com/core-tools/hsu-sandbox/pkg/process"
	"github.com/core-tools/hsu-sandbox/pkg/sandbox"
	"github.com/core-tools/hsu-sandbox/pkg/telemetry"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type flagOptions struct {
	CPULimit  string `long:"cpu-limit" value-name:"SECONDS" description:"CPU time ceiling in seconds, overrides the configuration"`
	Config    string `long:"config" value-name:"PATH" description:"YAML or JSON limits payload"`
	Stdin     string `long:"stdin" value-name:"FILE" description:"file fed to the target's standard input"`
	LogLevel  string `long:"log-level" value-name:"LEVEL" default:"info" description:"debug, info, warn or error"`
	LogFormat string `long:"log-format" default:"json" choice:"json" choice:"console" description:"log encoding on stderr"`
	Telemetry bool   `long:"telemetry" description:"export traces and metrics to stderr"`
}

type invocation struct {
	path      string
	args      []string
	cpuLimit  *uint64
	options   flagOptions
	helpShown string
}

// parseInvocation accepts flags anywhere on the command line. Unknown
// flags belong to the target, as does everything after "--".
func parseInvocation(argv []string) (*invocation, error) {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash|flags.IgnoreUnknown)
	parser.Usage = "[OPTIONS] <path> [args...]"

	rest, err := parser.ParseArgs(argv)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return &invocation{helpShown: flagsErr.Message}, nil
		}
		return nil, errors.NewUsageError("Command line flags parsing failed", err)
	}
	if len(rest) == 0 {
		return nil, errors.NewUsageError("Usage: execute <file_path> [args...] [--cpu-limit SECONDS] [--config PATH]", nil)
	}

	inv := &invocation{
		path:    rest[0],
		args:    rest[1:],
		options: opts,
	}
	if isSet(parser, "config") && opts.Config == "" {
		return nil, errors.NewUsageError("Invalid configuration path", nil)
	}
	if isSet(parser, "cpu-limit") {
		seconds, err := strconv.ParseUint(opts.CPULimit, 10, 64)
		if err != nil || seconds == 0 {
			return nil, errors.NewUsageError("Invalid CPU time limit", err).WithContext("cpu_limit", opts.CPULimit)
		}
		inv.cpuLimit = &seconds
	}
	return inv, nil
}

func isSet(parser *flags.Parser, longName string) bool {
	option := parser.FindOptionByLongName(longName)
	return option != nil && option.IsSet()
}

func main() {
	// The binary doubles as the sandbox init helper.
	process.MaybeRunSandboxInit()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(argv []string, stdout, stderr io.Writer) int {
	inv, err := parseInvocation(argv)
	if err != nil {
		fmt.Fprintln(stderr, usageMessage(err))
		return exitUsage
	}
	if inv.helpShown != "" {
		fmt.Fprintln(stdout, inv.helpShown)
		return exitOK
	}

	var requestOptions []process.RequestOption
	if inv.options.Stdin != "" {
		data, err := os.ReadFile(inv.options.Stdin)
		if err != nil {
			fmt.Fprintf(stderr, "Cannot read --stdin file: %v\n", err)
			return exitUsage
		}
		requestOptions = append(requestOptions, process.WithStdin(data))
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = inv.options.LogLevel
	zapConfig.Format = inv.options.LogFormat
	zapLogger, err := logging.NewZapLogger(zapConfig)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid logging options: %v\n", err)
		return exitUsage
	}
	defer zapLogger.Sync()

	logger := logging.Component(zapLogger, "execute")
	sink := audit.NewZapSink(zapLogger.Zap())

	if err := process.EnableSubreaper(); err != nil {
		logger.Debugf("Running without child subreaper: %v", err)
	}

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, telemetry.Config{Enabled: inv.options.Telemetry, Writer: stderr}, logger)
	if err != nil {
		logger.Warnf("Telemetry disabled: %v", err)
	} else {
		defer func() {
			if err := shutdown(ctx); err != nil {
				logger.Warnf("Telemetry shutdown failed: %v", err)
			}
		}()
	}

	profile := config.ResolveProfile(config.NewFileResolver(), inv.options.Config, logger, sink)
	if inv.cpuLimit != nil {
		profile = profile.WithCPUSeconds(*inv.cpuLimit)
	}
	logger.Infof("Executing, path: %s, args: %v, profile: %s", inv.path, inv.args, profile)

	executor := sandbox.NewExecutor(sandbox.Config{}, zapLogger, sink)
	result, err := executor.Execute(ctx, process.NewExecutionRequest(inv.path, inv.args, requestOptions...), profile)

	if err := sandbox.NewPayload(result, err).Encode(stdout); err != nil {
		logger.Errorf("Failed to write result: %v", err)
		return exitFailure
	}
	return exitOK
}

func usageMessage(err error) string {
	domainErr := errors.AsDomainError(err)
	if domainErr.Cause != nil {
		return fmt.Sprintf("%s: %v", domainErr.Message, domainErr.Cause)
	}
	return domainErr.Message
}
