package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

func TestRecordRoundTripsByteIdentically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	r, err := New(path, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Record("trace-1", map[string]any{"handshake_ok": true, "http_status": float64(200)}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Scan()
	line := scanner.Text()

	var rec model.ProbeRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatal(err)
	}
	reemitted, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if string(reemitted) != line {
		t.Fatalf("round-trip mismatch:\noriginal:  %s\nreemitted: %s", line, reemitted)
	}
}

func TestConcurrentRecordsAreAllPreservedAndParseable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	r, err := New(path, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var wg sync.WaitGroup
	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Record("k", i)
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	count := 0
	for scanner.Scan() {
		var rec model.ProbeRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unparseable line: %v", err)
		}
		count++
	}
	if count != n {
		t.Fatalf("expected %d lines, got %d", n, count)
	}
}
