// Package qlogmux implements the single global qlog aggregator of
// spec.md §4.4 (component C4): header emission, group_id stamping,
// monotonic-time clamping, optional minimization, and JSON-Seq framing
// of events streamed in from every ConnectionDriver.
package qlogmux

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/QUIC-Lab/quic-lab/internal/model"
	"github.com/QUIC-Lab/quic-lab/internal/rotate"
	"github.com/QUIC-Lab/quic-lab/internal/runtimex"
)

// epsilon is the minimum strictly-positive time advance the mux
// enforces between two events of the same group_id, per spec.md §3.
const epsilon = 1e-6

// Header carries the qlog trace header fields of spec.md §6.
type Header struct {
	Title        string
	Description  string
	CommonFields map[string]any
}

// Mux is the process-global qlog writer. It is safe for concurrent use
// by many Drivers; writes are serialized through the embedded
// *rotate.Writer (spec.md §4.4 item 5).
type Mux struct {
	w        *rotate.Writer
	minimize bool
	header   Header
	logger   model.Logger

	mu       sync.Mutex
	lastTime map[string]float64
}

// New opens the qlog artifact at basePath, rotating at maxBytes. The
// header is (re)emitted by a RotatingWriter NewFileHook, so it is
// written exactly once per file including the first, per spec.md
// §4.4 item 1.
func New(basePath string, maxBytes int64, minimize bool, header Header, logger model.Logger) (*Mux, error) {
	if logger == nil {
		logger = model.DiscardLogger
	}
	m := &Mux{minimize: minimize, header: header, logger: logger, lastTime: map[string]float64{}}
	w, err := rotate.New(basePath, maxBytes, m.writeHeader)
	if err != nil {
		return nil, err
	}
	m.w = w
	return m, nil
}

func (m *Mux) writeHeader(f *os.File) error {
	trace := map[string]any{
		"vantage_point": map[string]any{"type": "client"},
	}
	if len(m.header.CommonFields) > 0 {
		trace["common_fields"] = m.header.CommonFields
	}
	doc := map[string]any{
		"qlog_version": "0.4",
		"qlog_format":  "JSON-SEQ",
		"title":        m.header.Title,
		"description":  m.header.Description,
		"trace":        trace,
	}
	// doc is a fixed shape of strings and maps of strings/maps this
	// package itself constructs; it can never contain a value
	// json.Marshal refuses (a channel, a func, a cyclic map).
	data := runtimex.Try1(json.Marshal(doc))
	data = append(data, '\n')
	_, err := f.Write(data)
	return err
}

// Emit normalizes and writes one event. Per spec.md §4.4's failure
// clause, a write error is logged and the event is dropped; Emit never
// panics and never returns an error to the Driver.
func (m *Mux) Emit(ev model.QlogEvent) {
	if ev.GroupID == "" {
		ev.GroupID = "unknown"
	}
	m.mu.Lock()
	if last, ok := m.lastTime[ev.GroupID]; ok && ev.Time <= last {
		ev.Time = last + epsilon
	}
	m.lastTime[ev.GroupID] = ev.Time
	m.mu.Unlock()

	if m.minimize {
		if drop := minimizeEvent(&ev); drop {
			return
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		m.logger.Warnf("qlogmux: failed to marshal event %s: %v", ev.Name, err)
		return
	}
	record := make([]byte, 0, len(data)+2)
	record = append(record, 0x1E)
	record = append(record, data...)
	record = append(record, '\n')
	if err := m.w.Write(record); err != nil {
		m.logger.Warnf("qlogmux: failed to write event %s: %v", ev.Name, err)
	}
}

// Close closes the underlying artifact file.
func (m *Mux) Close() error {
	return m.w.Close()
}

// minimizeEvent applies the rewrite of spec.md §4.4 item 3 in place
// and reports whether ev should be dropped entirely. The transform is
// idempotent: calling it again on an already-minimized, kept event is
// a no-op (spec.md §8 property 5).
func minimizeEvent(ev *model.QlogEvent) (drop bool) {
	name := ev.Name

	if name == "quic:stream_data_moved" {
		return true
	}
	if strings.HasPrefix(name, "recovery:") && name != "recovery:packet_lost" {
		return true
	}

	switch {
	case strings.HasPrefix(name, "meta:"), strings.HasPrefix(name, "loglevel:"):
		delete(ev.Data, "raw")
	case strings.HasSuffix(name, ":parameters_set"):
		// keep data.raw for parameters_set events
	case strings.Contains(name, "error") || strings.Contains(name, "closed") ||
		strings.Contains(name, "connection_lost") || strings.HasPrefix(name, "quic:path_"):
		delete(ev.Data, "raw")
	case name == "quic:packet_sent" || name == "quic:packet_received":
		reducePacketEvent(ev)
	default:
		delete(ev.Data, "raw")
		collapseFrames(ev.Data)
	}
	return false
}

func reducePacketEvent(ev *model.QlogEvent) {
	if ev.Data == nil {
		return
	}
	if header, ok := ev.Data["header"].(map[string]any); ok {
		ev.Data["header"] = subset(header, "packet_type", "packet_number", "scil", "dcil")
	}
	if raw, ok := ev.Data["raw"].(map[string]any); ok {
		ev.Data["raw"] = subset(raw, "length", "payload_length")
	}
	collapseFrames(ev.Data)
}

func collapseFrames(data map[string]any) {
	if data == nil {
		return
	}
	frames, ok := data["frames"].([]any)
	if !ok {
		return
	}
	for i, f := range frames {
		frame, ok := f.(map[string]any)
		if !ok {
			continue
		}
		frames[i] = collapseFrame(frame)
	}
}

func collapseFrame(frame map[string]any) map[string]any {
	_, hasType := frame["frame_type"]
	_, hasStream := frame["stream_id"]
	if !hasType && !hasStream {
		return frame
	}
	return subset(frame, "frame_type", "stream_id")
}

func subset(m map[string]any, keys ...string) map[string]any {
	out := map[string]any{}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}
