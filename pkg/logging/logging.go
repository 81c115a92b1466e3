package logging

import "fmt"

// Logger is the printf-style leveled logger used across the launcher
type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const (
	DebugLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

type LogFunc func(format string, args ...interface{})

// LogFuncs binds a Logger to an arbitrary backend
type LogFuncs struct {
	Debugf LogFunc
	Infof  LogFunc
	Warnf  LogFunc
	Errorf LogFunc
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

func (l *logger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case DebugLevel:
		l.Debugf(format, args...)
	case InfoLevel:
		l.Infof(format, args...)
	case WarnLevel:
		l.Warnf(format, args...)
	case ErrorLevel:
		l.Errorf(format, args...)
	default:
		l.Infof(fmt.Sprintf("[level %d] ", level)+format, args...)
	}
}

func (l *logger) Debugf(format string, args ...interface{}) {
	l.call(l.funcs.Debugf, format, args...)
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.call(l.funcs.Infof, format, args...)
}

func (l *logger) Warnf(format string, args ...interface{}) {
	l.call(l.funcs.Warnf, format, args...)
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.call(l.funcs.Errorf, format, args...)
}

func (l *logger) call(f LogFunc, format string, args ...interface{}) {
	if f == nil {
		return
	}
	f(l.prefix+format, args...)
}

type nopLogger struct{}

// NewNopLogger returns a Logger that discards everything
func NewNopLogger() Logger {
	return nopLogger{}
}

func (nopLogger) LogLevelf(int, string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{})         {}
func (nopLogger) Infof(string, ...interface{})          {}
func (nopLogger) Warnf(string, ...interface{})          {}
func (nopLogger) Errorf(string, ...interface{})         {}
