package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines Zap-specific configuration
type ZapConfig struct {
	Level      string `yaml:"level" json:"level"`           // "debug", "info", "warn", "error"
	Format     string `yaml:"format" json:"format"`         // "json", "console"
	Output     string `yaml:"output" json:"output"`         // "stdout", "stderr", file path
	Caller     bool   `yaml:"caller" json:"caller"`         // Include caller information
	Stacktrace bool   `yaml:"stacktrace" json:"stacktrace"` // Include stacktrace on errors
}

// DefaultZapConfig logs JSON to stderr; stdout is reserved for the result payload.
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stderr",
		Caller:     false,
		Stacktrace: true,
	}
}

// ZapLogger backs the Logger interface with zap and keeps the structured
// logger reachable for sinks that want typed fields.
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	closer func() error
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger creates a zap-backed Logger from configuration
func NewZapLogger(config ZapConfig) (*ZapLogger, error) {
	zapLogger, closer, err := createZapLogger(config)
	if err != nil {
		return nil, err
	}
	return &ZapLogger{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
		closer: closer,
	}, nil
}

// NewZapLoggerFrom wraps an already configured zap logger.
func NewZapLoggerFrom(zapLogger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
	}
}

// Zap returns the underlying structured logger
func (z *ZapLogger) Zap() *zap.Logger {
	return z.logger
}

func (z *ZapLogger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		z.sugar.Debugf(format, args...)
	case LogLevelWarn:
		z.sugar.Warnf(format, args...)
	case LogLevelError:
		z.sugar.Errorf(format, args...)
	default:
		z.sugar.Infof(format, args...)
	}
}

func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapLogger) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapLogger) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// Sync flushes buffered entries and closes the output file, if any
func (z *ZapLogger) Sync() error {
	err := z.logger.Sync()
	if z.closer != nil {
		if closeErr := z.closer(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func createZapLogger(config ZapConfig) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if config.Level != "" {
		parsed, err := zapcore.ParseLevel(config.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json", "":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	var writeSyncer zapcore.WriteSyncer
	var closer func() error
	switch config.Output {
	case "stderr", "":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	case "stdout":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	default:
		file, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.Lock(zapcore.AddSync(file))
		closer = file.Close
	}

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(zapcore.NewCore(encoder, writeSyncer, level), opts...), closer, nil
}
