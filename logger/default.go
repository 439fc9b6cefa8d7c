package logger

import "sync/atomic"

var defLogger atomic.Pointer[Logger]

func init() {
	l := NewSlog(InfoLevel, false)
	defLogger.Store(&l)
}

// GetLogger returns the package default logger.
func GetLogger() Logger {
	return *defLogger.Load()
}

// SetDefault replaces the package default logger. Tasks created afterwards use l
// unless WithLogger is given.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defLogger.Store(&l)
}

// SetLevel sets the level of the default logger.
func SetLevel(level LogLevel) {
	GetLogger().SetLevel(level)
}

func Debug(msg string, keysAndValues ...any) {
	GetLogger().Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	GetLogger().Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	GetLogger().Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	GetLogger().Error(msg, keysAndValues...)
}

func With(keyValues ...any) Logger {
	return GetLogger().With(keyValues...)
}
