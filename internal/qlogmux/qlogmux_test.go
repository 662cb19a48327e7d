package qlogmux

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		// The header is the one unframed record; only 0x1E-framed lines are events.
		if !strings.HasPrefix(scanner.Text(), "\x1e") {
			continue
		}
		line := strings.TrimPrefix(scanner.Text(), "\x1e")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON record %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestHeaderIsFirstRecordAndUnframed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.sqlog")
	m, err := New(path, 1<<20, false, Header{Title: "t", Description: "d"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	m.Emit(model.QlogEvent{Time: 1, Name: "meta:connection", GroupID: "abc"})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if raw[0] == 0x1E {
		t.Fatal("header record must not be prefixed by the JSON-Seq record separator")
	}
	var header map[string]any
	firstLine := strings.SplitN(string(raw), "\n", 2)[0]
	if err := json.Unmarshal([]byte(firstLine), &header); err != nil {
		t.Fatal(err)
	}
	if header["qlog_version"] != "0.4" || header["qlog_format"] != "JSON-SEQ" {
		t.Fatalf("unexpected header: %+v", header)
	}
	if bytes.Count(raw, []byte{0x1E}) != 1 {
		t.Fatalf("expected exactly one record-separated event, found %d", bytes.Count(raw, []byte{0x1E}))
	}
}

func TestTimeMonotonicityWithinGroup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.sqlog")
	m, err := New(path, 1<<20, false, Header{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	m.Emit(model.QlogEvent{Time: 5.0, Name: "a", GroupID: "g"})
	m.Emit(model.QlogEvent{Time: 5.0, Name: "b", GroupID: "g"}) // S6: identical time
	m.Emit(model.QlogEvent{Time: 3.0, Name: "c", GroupID: "g"}) // lower time

	records := readRecords(t, path)
	if len(records) != 3 {
		t.Fatalf("expected 3 events, got %d", len(records))
	}
	var prev float64 = -1
	for _, r := range records {
		tm := r["time"].(float64)
		if tm <= prev {
			t.Fatalf("time sequence not strictly increasing: %v after %v", tm, prev)
		}
		prev = tm
	}
}

func TestGroupsAreIndependentForMonotonicity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.sqlog")
	m, err := New(path, 1<<20, false, Header{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	m.Emit(model.QlogEvent{Time: 100, Name: "a", GroupID: "g1"})
	m.Emit(model.QlogEvent{Time: 1, Name: "a", GroupID: "g2"}) // independent group, low time is fine

	records := readRecords(t, path)
	if records[1]["time"].(float64) != 1 {
		t.Fatalf("group g2 time should not be affected by group g1: %+v", records[1])
	}
}

func TestMissingGroupIDDefaultsToUnknown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.sqlog")
	m, err := New(path, 1<<20, false, Header{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	m.Emit(model.QlogEvent{Time: 1, Name: "a"})
	records := readRecords(t, path)
	if records[0]["group_id"] != "unknown" {
		t.Fatalf("expected default group_id unknown, got %v", records[0]["group_id"])
	}
}

func TestMinimizationDropsStreamDataMovedAndNonLostRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.sqlog")
	m, err := New(path, 1<<20, true, Header{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	m.Emit(model.QlogEvent{Time: 1, Name: "quic:stream_data_moved", GroupID: "g"})
	m.Emit(model.QlogEvent{Time: 2, Name: "recovery:metrics_updated", GroupID: "g"})
	m.Emit(model.QlogEvent{Time: 3, Name: "recovery:packet_lost", GroupID: "g"})
	records := readRecords(t, path)
	if len(records) != 1 {
		t.Fatalf("expected only recovery:packet_lost to survive, got %d: %+v", len(records), records)
	}
	if records[0]["name"] != "recovery:packet_lost" {
		t.Fatalf("unexpected surviving event: %+v", records[0])
	}
}

func TestMinimizationIsIdempotent(t *testing.T) {
	events := []model.QlogEvent{
		{Name: "meta:connection", Data: map[string]any{"raw": "x", "keep": 1}},
		{Name: "transport:parameters_set", Data: map[string]any{"raw": "x"}},
		{Name: "quic:connection_closed", Data: map[string]any{"raw": "x"}},
		{Name: "quic:path_updated", Data: map[string]any{"raw": "x"}},
		{
			Name: "quic:packet_sent",
			Data: map[string]any{
				"header": map[string]any{"packet_type": "1RTT", "packet_number": float64(1), "extra": "drop-me"},
				"raw":    map[string]any{"length": float64(10), "payload_length": float64(8), "extra": "drop-me"},
				"frames": []any{map[string]any{"frame_type": "stream", "stream_id": float64(4), "length": float64(1)}},
			},
		},
		{Name: "quic:datagrams_received", Data: map[string]any{"raw": "x", "frames": []any{map[string]any{"frame_type": "ping"}}}},
	}
	for _, ev := range events {
		once := cloneEvent(ev)
		minimizeEvent(&once)
		twice := cloneEvent(once)
		minimizeEvent(&twice)
		oneJSON, _ := json.Marshal(once)
		twoJSON, _ := json.Marshal(twice)
		if string(oneJSON) != string(twoJSON) {
			t.Fatalf("minimize not idempotent for %s:\n1: %s\n2: %s", ev.Name, oneJSON, twoJSON)
		}
	}
}

func cloneEvent(ev model.QlogEvent) model.QlogEvent {
	data, _ := json.Marshal(ev.Data)
	var cp map[string]any
	json.Unmarshal(data, &cp)
	ev.Data = cp
	return ev
}
