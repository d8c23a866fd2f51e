package audit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapSink writes events as structured zap entries under the "audit" logger.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("audit")}
}

func (z *ZapSink) Record(event Event) {
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
	}
	if event.ExecutionID != "" {
		fields = append(fields, zap.String("execution_id", event.ExecutionID))
	}
	if !event.Time.IsZero() {
		fields = append(fields, zap.Time("event_time", event.Time))
	}
	if event.Path != "" {
		fields = append(fields, zap.String("path", event.Path), zap.Strings("args", event.Args))
	}
	if event.Profile != nil {
		fields = append(fields, zap.Stringer("profile", event.Profile))
	}
	if event.PID > 0 {
		fields = append(fields, zap.Int("pid", event.PID), zap.Int("pgid", event.PGID))
	}
	if event.Outcome != nil {
		fields = append(fields, zap.Object("outcome", outcomeMarshaler(*event.Outcome)))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}

	message := event.Message
	if message == "" {
		message = "sandbox " + string(event.Kind)
	}

	switch event.Kind {
	case EventKindFailure:
		z.logger.Error(message, fields...)
	case EventKindTimeout, EventKindConfigFallback:
		z.logger.Warn(message, fields...)
	default:
		z.logger.Info(message, fields...)
	}
}

type outcomeMarshaler Outcome

func (o outcomeMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("exit_code", o.ExitCode)
	enc.AddBool("timed_out", o.TimedOut)
	enc.AddString("violation", string(o.Violation))
	enc.AddDuration("wall_clock_duration", o.WallClockDuration)
	enc.AddDuration("cpu_time", o.CPUTime)
	return nil
}
