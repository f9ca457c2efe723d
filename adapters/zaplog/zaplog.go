// Package zaplog adapts a zap logger to the pgcdc.Logger interface.
package zaplog

import "go.uber.org/zap"

// Logger implements pgcdc.Logger on a zap.SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New wraps a zap logger for use with the engine.
func New(logger *zap.Logger) *Logger {
	return &Logger{sugar: logger.Sugar()}
}

// Debugf implements pgcdc.Logger.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Infof implements pgcdc.Logger.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warnf implements pgcdc.Logger.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Errorf implements pgcdc.Logger.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Info implements pgcdc.Logger.
func (l *Logger) Info(message string) {
	l.sugar.Info(message)
}
