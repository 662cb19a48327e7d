package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "quic-lab.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), model.DiscardLogger)
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if _, ok := err.(*model.ConfigError); !ok {
		t.Fatalf("err = %T, want *model.ConfigError", err)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfigFile(t, "this is not [ valid toml")
	_, err := Load(path, model.DiscardLogger)
	if err == nil {
		t.Fatal("expected an error for malformed TOML")
	}
}

func TestLoadRejectsZeroMaxIdleTimeout(t *testing.T) {
	path := writeConfigFile(t, `
[[connection_config]]
max_idle_timeout_ms = 0
`)
	_, err := Load(path, model.DiscardLogger)
	if err == nil {
		t.Fatal("expected max_idle_timeout_ms = 0 to be rejected")
	}
}

func TestLoadFillsInDefaultConnectionConfigWhenOmitted(t *testing.T) {
	path := writeConfigFile(t, `
[io]
out_dir = "./out"
`)
	cfg, err := Load(path, model.DiscardLogger)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.ConnectionConfig) != 1 {
		t.Fatalf("len(ConnectionConfig) = %d, want 1", len(cfg.ConnectionConfig))
	}
	if cfg.ConnectionConfig[0].Port != 443 {
		t.Fatalf("Port = %d, want 443 (the spec default)", cfg.ConnectionConfig[0].Port)
	}
}

func TestLoadRejectsEmptyOutDir(t *testing.T) {
	path := writeConfigFile(t, `
[io]
out_dir = ""
`)
	if _, err := Load(path, model.DiscardLogger); err == nil {
		t.Fatal("expected an empty io.out_dir to be rejected")
	}
}

func TestLoadWarnsOnUnknownKeyWithoutFailing(t *testing.T) {
	path := writeConfigFile(t, `
[io]
out_dir = "./out"
bogus_key = "x"
`)
	var warnings []string
	logger := &capturingLogger{warn: &warnings}
	if _, err := Load(path, logger); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected at least one warning for the unknown key")
	}
}

type capturingLogger struct {
	warn *[]string
}

func (l *capturingLogger) Debug(msg string)                       {}
func (l *capturingLogger) Debugf(format string, v ...interface{}) {}
func (l *capturingLogger) Info(msg string)                        {}
func (l *capturingLogger) Infof(format string, v ...interface{})  {}
func (l *capturingLogger) Warn(msg string) {
	*l.warn = append(*l.warn, msg)
}
func (l *capturingLogger) Warnf(format string, v ...interface{}) {
	*l.warn = append(*l.warn, format)
}
