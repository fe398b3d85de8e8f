// Package houselog wraps logrus with the field conventions the rest of the
// federation's processes share: every line carries a "component" and most
// carry an "event" naming one of the taxonomy strings downstream log tools
// already key off (ROUTE/REMOVED, PEER/EXPIRE, ...). Severity follows the
// original houselog.c levels (FATAL/ERROR/WARNING/INFO/DEBUG), mapped onto
// logrus levels one-for-one.
package houselog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a thin, component-scoped handle onto the shared logrus instance.
type Logger struct {
	entry *logrus.Entry
}

var root = logrus.New()

func init() {
	root.SetOutput(os.Stderr)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	root.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the process-wide verbosity.
func SetLevel(level logrus.Level) {
	root.SetLevel(level)
}

// SetOutput redirects the root logger, e.g. to the file named by -log=PATH.
func SetOutput(f *os.File) {
	root.SetOutput(f)
}

// For returns a Logger scoped to a component name ("redirect", "peer", ...).
func For(component string) *Logger {
	return &Logger{entry: root.WithField("component", component)}
}

// Event logs a structured taxonomy event (e.g. "ROUTE/REMOVED") at Info,
// carrying the supplied fields alongside it.
func (l *Logger) Event(event string, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["event"] = event
	l.entry.WithFields(fields).Info(event)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Fatalf logs at Fatal and exits the process with code 1. Reserved for
// startup misconfiguration; never called from a peer-induced code path.
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// WithField returns a derived Logger carrying one extra field, useful for
// scoping a burst of related log lines (e.g. one peer's host).
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}
