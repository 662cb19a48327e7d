package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"
	"github.com/quic-go/quic-go/qlog"

	"github.com/QUIC-Lab/quic-lab/internal/model"
	"github.com/QUIC-Lab/quic-lab/internal/qlogmux"
)

// newTracerFactory wires a per-connection qlog.ConnectionTracer to
// mux. quic-go assigns the connection's trace identity (its original
// destination connection ID) only when this factory fires, so
// onTraceID reports it back to the Driver synchronously: this is the
// single source of the trace_id the Driver later uses as both the
// qlog group_id and the recorder key, honoring the coupling invariant
// of spec.md §9 and SPEC_FULL.md §4.4 by construction.
func newTracerFactory(mux *qlogmux.Mux, onTraceID func(string)) func(context.Context, logging.Perspective, quic.ConnectionID) *logging.ConnectionTracer {
	return func(ctx context.Context, perspective logging.Perspective, connID quic.ConnectionID) *logging.ConnectionTracer {
		groupID := connID.String()
		if onTraceID != nil {
			onTraceID(groupID)
		}
		if mux == nil {
			return nil
		}
		pr, pw := io.Pipe()
		go streamFragments(pr, mux, groupID)
		return qlog.NewConnectionTracer(pw, perspective, connID)
	}
}

// streamFragments decodes the JSON-Seq fragments quic-go's own qlog
// writer produces on one connection and re-emits each as a
// model.QlogEvent tagged with groupID, letting the shared Mux own
// group_id stamping, monotonicity, minimization, and framing. The
// very first fragment is quic-go's own trace header, which this
// engine replaces with QlogMux's header, so it is dropped.
func streamFragments(r io.Reader, mux *qlogmux.Mux, groupID string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	scanner.Split(splitRecordSeparator)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		record := scanner.Bytes()
		if len(record) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(record, &raw); err != nil {
			continue
		}
		ev := model.QlogEvent{GroupID: groupID}
		if t, ok := raw["time"].(float64); ok {
			ev.Time = t
		}
		if n, ok := raw["name"].(string); ok {
			ev.Name = n
		}
		if d, ok := raw["data"].(map[string]any); ok {
			ev.Data = d
		}
		mux.Emit(ev)
	}
}

// splitRecordSeparator is a bufio.SplitFunc splitting on the JSON-Seq
// record separator (0x1E), matching quic-go's qlog writer framing.
func splitRecordSeparator(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	start := 0
	if data[0] == 0x1E {
		start = 1
	}
	for i := start; i < len(data); i++ {
		if data[i] == 0x1E {
			return i, trimRecord(data[start:i]), nil
		}
	}
	if atEOF {
		return len(data), trimRecord(data[start:]), nil
	}
	return 0, nil, nil
}

func trimRecord(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
