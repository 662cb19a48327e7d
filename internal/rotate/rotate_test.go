package rotate

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestWriteRotatesAndNeverSplitsARecord(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.log")
	w, err := New(base, 32, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	records := [][]byte{
		[]byte("0123456789\n"), // 11
		[]byte("0123456789\n"), // 11 -> 22, still fits
		[]byte("0123456789\n"), // 11 -> 33 > 32, rotates first
		[]byte(strings.Repeat("x", 100) + "\n"), // oversized, gets its own file
	}
	for _, r := range records {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to have produced multiple files, got %d", len(entries))
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			t.Fatal(err)
		}
		if info.Size() > 32 && info.Size() != int64(len(records[3])) {
			t.Fatalf("file %s exceeds max_bytes without holding the oversized record: %d bytes", e.Name(), info.Size())
		}
	}
}

func TestSuffixesAreContiguousAndAscending(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.log")
	w, err := New(base, 16, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		if err := w.Write([]byte("0123456789\n")); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var suffixes []int
	for _, e := range entries {
		name := e.Name()
		if name == "out.log" {
			suffixes = append(suffixes, 0)
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "out.log."))
		if err != nil {
			t.Fatalf("unexpected file name %s", name)
		}
		suffixes = append(suffixes, n)
	}
	for i := 0; i <= len(suffixes)-1; i++ {
		found := false
		for _, s := range suffixes {
			if s == i {
				found = true
			}
		}
		if !found {
			t.Fatalf("suffix range is not contiguous: missing %d among %v", i, suffixes)
		}
	}
}

func TestResumesFromHighestExistingSuffix(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.log")
	for _, suffix := range []string{"out.log", "out.log.1", "out.log.2"} {
		if err := os.WriteFile(filepath.Join(dir, suffix), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	w, err := New(base, 1<<20, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if w.suffix != 2 {
		t.Fatalf("expected writer to resume at suffix 2, got %d", w.suffix)
	}
}

func TestNewFileHookRunsOnEveryRotation(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.log")
	var hookCalls int
	hook := func(f *os.File) error {
		hookCalls++
		_, err := f.Write([]byte("HEADER\n"))
		return err
	}
	w, err := New(base, 20, hook)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if hookCalls != 1 {
		t.Fatalf("expected hook to run once on open, got %d", hookCalls)
	}
	if err := w.Write([]byte("0123456789012345\n")); err != nil {
		t.Fatal(err)
	}
	if hookCalls != 2 {
		t.Fatalf("expected hook to run again after rotation, got %d", hookCalls)
	}
	data, err := os.ReadFile(base + ".1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("HEADER\n")) {
		t.Fatalf("expected rotated file to start with header, got %q", data)
	}
}
