package logger

import (
	"sync"
)

// Log levels used across the application.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// Output encodings.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	// globalLogger holds the singleton logger instance.
	globalLogger *Logger
	once         sync.Once
)

// Get returns the process logger with a console encoder.
// The first call to Get or GetWithFormat initializes it; later calls return
// the existing instance and ignore their arguments.
func Get(level string) *Logger {
	return GetWithFormat(level, FormatConsole)
}

// GetWithFormat is Get with an explicit output encoding (console or json).
func GetWithFormat(level, format string) *Logger {
	once.Do(func() {
		globalLogger = New(level, format)
	})
	return globalLogger
}
