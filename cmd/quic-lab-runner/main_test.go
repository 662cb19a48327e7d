package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestMainWithConfigReturnsConfigErrorForMissingFile(t *testing.T) {
	code := mainWithConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if code != exitConfigError {
		t.Fatalf("code = %d, want %d", code, exitConfigError)
	}
}

func TestMainWithConfigReturnsConfigErrorForInvalidIdleTimeout(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "quic-lab.toml")
	writeFile(t, cfgPath, `
[io]
in_dir = "`+dir+`"
domains_file_name = "domains.txt"
out_dir = "`+filepath.Join(dir, "out")+`"

[[connection_config]]
max_idle_timeout_ms = 0
`)
	code := mainWithConfig(cfgPath)
	if code != exitConfigError {
		t.Fatalf("code = %d, want %d", code, exitConfigError)
	}
}

func TestMainWithConfigReturnsIoErrorForMissingDomainsFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "quic-lab.toml")
	writeFile(t, cfgPath, `
[io]
in_dir = "`+dir+`"
domains_file_name = "missing-domains.txt"
out_dir = "`+filepath.Join(dir, "out")+`"

[general]
save_log_files = false
`)
	code := mainWithConfig(cfgPath)
	if code != exitIoError {
		t.Fatalf("code = %d, want %d", code, exitIoError)
	}
}

func TestMainWithConfigRunsToCompletionWithNoDomains(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "quic-lab.toml")
	writeFile(t, cfgPath, `
[io]
in_dir = "`+dir+`"
domains_file_name = "domains.txt"
out_dir = "`+filepath.Join(dir, "out")+`"

[general]
save_log_files = false
save_recorder_files = false
save_qlog_files = false
`)
	writeFile(t, filepath.Join(dir, "domains.txt"), "# no domains\n")

	code := mainWithConfig(cfgPath)
	if code != exitOK {
		t.Fatalf("code = %d, want %d", code, exitOK)
	}
}
