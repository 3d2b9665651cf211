// Package logx provides the structured logger used across the someip
// module, adapting the Logger interface shape used throughout the pack to
// github.com/sirupsen/logrus instead of the standard library's log.Logger.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus' level vocabulary so callers outside this package
// never import logrus directly.
type Level uint32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) toLogrus() logrus.Level {
	switch l {
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is the interface the reactor, dispatch, and someip packages log
// through.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
	IsLevelEnabled(level Level) bool

	// With returns a Logger that annotates every subsequent entry with the
	// given key/value, for correlating log lines with one Runtime instance
	// or request trace (fields like "instance" or "trace_id").
	With(key string, value interface{}) Logger
}

// logrusLogger wraps a *logrus.Entry.
type logrusLogger struct {
	entry *logrus.Entry
}

// New constructs a Logger writing structured (JSON-free, text formatter)
// entries to stderr at LevelInfo.
func New(instanceName string) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: l.WithField("component", "someip").WithField("instance", instanceName)}
}

func (l *logrusLogger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) SetLevel(level Level) {
	l.entry.Logger.SetLevel(level.toLogrus())
}

func (l *logrusLogger) IsLevelEnabled(level Level) bool {
	return l.entry.Logger.IsLevelEnabled(level.toLogrus())
}

func (l *logrusLogger) With(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

// Noop is a Logger that discards everything, useful for tests that don't
// want to assert on log output.
type noopLogger struct{}

// Noop returns a Logger discarding every entry.
func Noop() Logger { return noopLogger{} }

func (noopLogger) Debug(string, ...interface{})      {}
func (noopLogger) Info(string, ...interface{})       {}
func (noopLogger) Warn(string, ...interface{})       {}
func (noopLogger) Error(string, ...interface{})      {}
func (noopLogger) SetLevel(Level)                    {}
func (noopLogger) IsLevelEnabled(Level) bool         { return false }
func (noopLogger) With(string, interface{}) Logger   { return noopLogger{} }
