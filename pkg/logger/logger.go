// Package logger wraps logrus with the leveled, structured calls the rest
// of this module expects: Debug/Info/Warn/Error plus a With() that attaches
// fields without callers needing to know the underlying library.
package logger

import (
	log "github.com/sirupsen/logrus"
)

// Logger is a thin, structured facade over logrus so packages depend on
// this small interface instead of importing logrus directly.
type Logger struct {
	entry *log.Entry
}

// New returns a Logger writing to stderr at info level.
func New() *Logger {
	l := log.New()
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return &Logger{entry: log.NewEntry(l)}
}

// NewWithLevel returns a Logger at the given logrus level name ("debug",
// "info", "warn", "error"). Unknown names fall back to info.
func NewWithLevel(level string) *Logger {
	l := log.New()
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if lvl, err := log.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return &Logger{entry: log.NewEntry(l)}
}

// With returns a child Logger with the given fields attached to every
// subsequent call.
func (lg *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{entry: lg.entry.WithFields(fields)}
}

func (lg *Logger) Debug(args ...interface{}) { lg.entry.Debug(args...) }
func (lg *Logger) Info(args ...interface{})  { lg.entry.Info(args...) }
func (lg *Logger) Warn(args ...interface{})  { lg.entry.Warn(args...) }
func (lg *Logger) Error(args ...interface{}) { lg.entry.Error(args...) }

func (lg *Logger) Debugf(format string, args ...interface{}) { lg.entry.Debugf(format, args...) }
func (lg *Logger) Infof(format string, args ...interface{})  { lg.entry.Infof(format, args...) }
func (lg *Logger) Warnf(format string, args ...interface{})  { lg.entry.Warnf(format, args...) }
func (lg *Logger) Errorf(format string, args ...interface{}) { lg.entry.Errorf(format, args...) }
