// Package rotate implements the size-bounded, append-only file sink
// described in spec.md §4.1 (RotatingWriter, component C1). Every other
// sink in this engine (recorder, qlog, keylog) wraps a *Writer rather
// than touching *os.File directly, the way the teacher layers thin,
// single-purpose decorators around a primitive (internal/netxlite).
package rotate

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

// NewFileHook runs exactly once after every (re)open of the current
// file, including the very first. It receives the freshly opened file
// and may write a header to it.
type NewFileHook func(f *os.File) error

// Writer is a size-bounded, append-only, rotation-aware file sink.
// It is safe for concurrent use; rotation is an exclusive critical
// section (spec.md §5).
type Writer struct {
	basePath string
	maxBytes int64
	hook     NewFileHook

	mu      sync.Mutex
	file    *os.File
	size    int64
	suffix  int // 0 means "base" with no numeric suffix
}

// New opens (or creates) the rotating sink rooted at basePath. On
// startup it discovers the highest existing numeric suffix and
// continues from there, per spec.md §4.1's naming rule.
func New(basePath string, maxBytes int64, hook NewFileHook) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(basePath), 0o755); err != nil {
		return nil, &model.IoError{Cause: err}
	}
	w := &Writer{basePath: basePath, maxBytes: maxBytes, hook: hook}
	w.suffix = discoverHighestSuffix(basePath)
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

func discoverHighestSuffix(basePath string) int {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	highest := 0
	prefix := base + "."
	for _, e := range entries {
		name := e.Name()
		if name == base {
			continue
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest
}

func (w *Writer) pathForSuffix(suffix int) string {
	if suffix == 0 {
		return w.basePath
	}
	return fmt.Sprintf("%s.%d", w.basePath, suffix)
}

// openCurrent opens (creating if needed) the file at the current
// suffix, runs the hook, and records its existing size so that a
// resumed run keeps rotating at the right boundary.
func (w *Writer) openCurrent() error {
	path := w.pathForSuffix(w.suffix)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &model.IoError{Cause: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return &model.IoError{Cause: err}
	}
	w.file = f
	w.size = info.Size()
	if w.hook != nil {
		if err := w.hook(f); err != nil {
			return &model.IoError{Cause: err}
		}
		// re-stat: the hook may itself have written a header.
		if info, err := f.Stat(); err == nil {
			w.size = info.Size()
		}
	}
	return nil
}

// Write atomically appends a single record. A record is never split
// across files: if the current file would exceed maxBytes after the
// write, rotation happens first; if the record alone exceeds maxBytes
// it still gets its own (oversized) file, per spec.md §4.1.
func (w *Writer) Write(record []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size > 0 && w.size+int64(len(record)) > w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := w.file.Write(record)
	if err != nil {
		return &model.IoError{Cause: err}
	}
	w.size += int64(n)
	return nil
}

func (w *Writer) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return &model.IoError{Cause: err}
	}
	w.suffix++
	return w.openCurrent()
}

// Flush flushes underlying buffers (file writes here are unbuffered,
// so this is an fsync-less no-op kept for sinks layered on *Writer
// that expect a Flush method).
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return nil
}

// Close closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return &model.IoError{Cause: err}
	}
	return nil
}
