package model

//
// Logger
//

// DebugLogger is a logger emitting only debug messages.
type DebugLogger interface {
	// Debug emits a debug message.
	Debug(msg string)

	// Debugf formats and emits a debug message.
	Debugf(format string, v ...interface{})
}

// InfoLogger is a logger emitting debug and info messages.
type InfoLogger interface {
	// An InfoLogger is also a DebugLogger.
	DebugLogger

	// Info emits an informational message.
	Info(msg string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...interface{})
}

// Logger is the narrow logging interface the whole engine depends on.
// It is satisfied out of the box by github.com/apex/log's *log.Logger.
type Logger interface {
	// A Logger is also an InfoLogger.
	InfoLogger

	// Warn emits a warning message.
	Warn(msg string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...interface{})
}

// DiscardLogger is a Logger that discards everything.
var DiscardLogger Logger = logDiscarder{}

type logDiscarder struct{}

func (logDiscarder) Debug(msg string)                          {}
func (logDiscarder) Debugf(format string, v ...interface{})    {}
func (logDiscarder) Info(msg string)                           {}
func (logDiscarder) Infof(format string, v ...interface{})     {}
func (logDiscarder) Warn(msg string)                            {}
func (logDiscarder) Warnf(format string, v ...interface{})     {}

var _ Logger = logDiscarder{}
