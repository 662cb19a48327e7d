// Package keylog implements the TLS keylog sink of spec.md §4.5
// (component C5): a thin, serialized wrapper over the RotatingWriter
// that crypto/tls (via quic-go) writes NSS-format lines into.
package keylog

import (
	"os"

	"github.com/QUIC-Lab/quic-lab/internal/model"
	"github.com/QUIC-Lab/quic-lab/internal/rotate"
)

// Sink is the process-global keylog writer, shared by every
// connection. It is only ever constructed when GeneralConfig's
// save_keylog_files is set, per spec.md §4.5.
type Sink struct {
	w        *rotate.Writer
	directFH *os.File // non-nil when SSLKEYLOGFILE overrides the artifact path
}

// New opens the keylog artifact. If the SSLKEYLOGFILE environment
// variable is set (spec.md §6 Environment), it takes precedence and
// is opened directly, unrotated, the way NSS-compatible tools expect
// a single ever-growing file at that exact path.
func New(basePath string, maxBytes int64) (*Sink, error) {
	if alt := os.Getenv("SSLKEYLOGFILE"); alt != "" {
		f, err := os.OpenFile(alt, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, &model.IoError{Cause: err}
		}
		return &Sink{directFH: f}, nil
	}
	w, err := rotate.New(basePath, maxBytes, nil)
	if err != nil {
		return nil, err
	}
	return &Sink{w: w}, nil
}

// write serializes one pre-formatted NSS keylog line across every
// connection writing to this Sink.
func (s *Sink) write(line []byte) error {
	if s.directFH != nil {
		_, err := s.directFH.Write(line)
		if err != nil {
			return &model.IoError{Cause: err}
		}
		return nil
	}
	return s.w.Write(line)
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	if s.directFH != nil {
		return s.directFH.Close()
	}
	return s.w.Close()
}

// PerConnKeylog is the io.Writer a single connection installs as its
// tls.Config.KeyLogWriter. crypto/tls already tags every line with the
// connection's client-random, so this view only needs to route each
// call to the shared, serialized Sink.
type PerConnKeylog struct {
	sink *Sink
}

// NewPerConn returns a fresh per-connection view over sink.
func NewPerConn(sink *Sink) *PerConnKeylog {
	return &PerConnKeylog{sink: sink}
}

// Write implements io.Writer.
func (p *PerConnKeylog) Write(line []byte) (int, error) {
	if err := p.sink.write(line); err != nil {
		return 0, err
	}
	return len(line), nil
}
