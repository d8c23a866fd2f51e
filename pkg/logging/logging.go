package logging

const (
	LogLevelDebug = 0
	LogLevelInfo  = 1
	LogLevelWarn  = 2
	LogLevelError = 3
)

// Logger is the diagnostic logger handed to every sandbox component.
// Components never reach for a process-wide logger.
type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type LogLevelFunc func(level int, format string, args ...interface{})
type LogFunc func(format string, args ...interface{})

type LogFuncs struct {
	LogLevelf LogLevelFunc
	Debugf    LogFunc
	Infof     LogFunc
	Warnf     LogFunc
	Errorf    LogFunc
}

// FuncsOf exposes the level functions of an existing Logger, so that it can
// be re-wrapped under another prefix.
func FuncsOf(l Logger) LogFuncs {
	return LogFuncs{
		LogLevelf: l.LogLevelf,
	}
}

type logger struct {
	prefix string
	funcs  LogFuncs
}

func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &logger{
		prefix: prefix,
		funcs:  funcs,
	}
}

// Component returns a logger whose messages carry "component: <name>, " in
// front, the prefix convention used across the sandbox binaries.
func Component(base Logger, name string) Logger {
	if base == nil {
		return NewNopLogger()
	}
	return NewLogger("component: "+name+", ", FuncsOf(base))
}

// NewNopLogger returns a logger that drops everything.
func NewNopLogger() Logger {
	return &logger{}
}

func (l *logger) logf(level int, msg string, args ...interface{}) {
	if l.prefix != "" {
		msg = l.prefix + msg
	}
	if l.funcs.LogLevelf != nil {
		l.funcs.LogLevelf(level, msg, args...)
		return
	}
	var fn LogFunc
	switch level {
	case LogLevelDebug:
		fn = l.funcs.Debugf
	case LogLevelInfo:
		fn = l.funcs.Infof
	case LogLevelWarn:
		fn = l.funcs.Warnf
	case LogLevelError:
		fn = l.funcs.Errorf
	}
	if fn != nil {
		fn(msg, args...)
	}
}

func (l *logger) LogLevelf(level int, format string, args ...interface{}) {
	l.logf(level, format, args...)
}

func (l *logger) Debugf(msg string, args ...interface{}) {
	l.logf(LogLevelDebug, msg, args...)
}

func (l *logger) Infof(msg string, args ...interface{}) {
	l.logf(LogLevelInfo, msg, args...)
}

func (l *logger) Warnf(msg string, args ...interface{}) {
	l.logf(LogLevelWarn, msg, args...)
}

func (l *logger) Errorf(msg string, args ...interface{}) {
	l.logf(LogLevelError, msg, args...)
}
