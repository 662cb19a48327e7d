// Package recorder implements the JSONL per-probe record writer of
// spec.md §4.6 (component C6), atop the shared RotatingWriter.
package recorder

import (
	"encoding/json"

	"github.com/QUIC-Lab/quic-lab/internal/model"
	"github.com/QUIC-Lab/quic-lab/internal/rotate"
)

// Recorder is the process-global recorder sink, shared by every probe.
type Recorder struct {
	w *rotate.Writer
}

// New opens the recorder artifact at basePath, rotating at maxBytes.
func New(basePath string, maxBytes int64) (*Recorder, error) {
	w, err := rotate.New(basePath, maxBytes, nil)
	if err != nil {
		return nil, err
	}
	return &Recorder{w: w}, nil
}

// Record emits {"key": key, "value": value} followed by LF. The value
// is never inspected, per spec.md §3; multiple concurrent callers are
// serialized by the underlying RotatingWriter.
func (r *Recorder) Record(key string, value any) error {
	rec := model.ProbeRecord{Key: key, Value: value}
	data, err := json.Marshal(rec)
	if err != nil {
		return &model.IoError{Cause: err}
	}
	data = append(data, '\n')
	return r.w.Write(data)
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	return r.w.Close()
}
