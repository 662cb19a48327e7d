// Package logx wires github.com/apex/log into the engine, following
// the same elapsed-time handler and timestamp convention as the
// teacher's own CLI logging, and provides the OperationLogger helper
// used throughout the engine to bracket one fallible operation with a
// start line and a completion line.
package logx

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

var startTime = time.Now()

// Handler implements apex/log's log.Handler, formatting each entry as
// a monotonic elapsed-seconds prefix followed by level and message,
// and its fields when present.
type Handler struct {
	mu sync.Mutex
	w  io.Writer
}

var _ log.Handler = &Handler{}

// NewHandler returns a Handler writing to w.
func NewHandler(w io.Writer) *Handler {
	return &Handler{w: w}
}

// HandleLog implements log.Handler.
func (h *Handler) HandleLog(e *log.Entry) error {
	line := fmt.Sprintf("[%14.6f] <%s> %s", time.Since(startTime).Seconds(), e.Level, e.Message)
	if len(e.Fields) > 0 {
		line += fmt.Sprintf(": %+v", e.Fields)
	}
	line += "\n"
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write([]byte(line))
	return err
}

// NewLogger returns an apex/log *log.Logger writing through a Handler
// on w, at the given level, satisfying model.Logger.
func NewLogger(w io.Writer, level log.Level) *log.Logger {
	return &log.Logger{
		Handler: NewHandler(w),
		Level:   level,
	}
}

// ParseLevel maps a lowercase level name from configuration to an
// apex/log Level, defaulting to Info on an unrecognized name.
func ParseLevel(name string) log.Level {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// OperationLogger brackets one fallible operation with a start-time
// debug line and a Stop-time debug line reporting its outcome and
// elapsed duration, the same pattern the teacher uses around every
// dial/handshake/round-trip it performs.
type OperationLogger struct {
	logger model.DebugLogger
	start  time.Time
	what   string
}

// NewOperationLogger formats format/v as the operation's description,
// logs its start, and returns a handle whose Stop method must be
// called exactly once.
func NewOperationLogger(logger model.DebugLogger, format string, v ...interface{}) *OperationLogger {
	what := fmt.Sprintf(format, v...)
	logger.Debugf("%s...", what)
	return &OperationLogger{logger: logger, start: time.Now(), what: what}
}

// Stop logs the operation's outcome and elapsed duration. A nil err
// means success.
func (ol *OperationLogger) Stop(err error) {
	elapsed := time.Since(ol.start)
	if err != nil {
		ol.logger.Debugf("%s... %s in %s", ol.what, err.Error(), elapsed)
		return
	}
	ol.logger.Debugf("%s... ok in %s", ol.what, elapsed)
}
