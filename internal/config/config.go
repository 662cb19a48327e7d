// Package config loads and validates the TOML configuration file
// described in spec.md §6, using github.com/pelletier/go-toml the way
// the teacher (ooni-probe-cli) pulls in the same library transitively
// for its own config surface.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/QUIC-Lab/quic-lab/internal/model"
)

// SchedulerConfig controls domain fan-out, per spec.md §3.
type SchedulerConfig struct {
	Concurrency         int   `toml:"concurrency"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
	Burst               int   `toml:"burst"`
	InterAttemptDelayMs int64 `toml:"inter_attempt_delay_ms"`
}

// IoConfig controls where inputs are read from and outputs written to.
type IoConfig struct {
	InDir           string `toml:"in_dir"`
	DomainsFileName string `toml:"domains_file_name"`
	OutDir          string `toml:"out_dir"`
}

// GeneralConfig controls logging and the save/discard toggles.
type GeneralConfig struct {
	LogLevel          string `toml:"log_level"`
	SaveLogFiles      bool   `toml:"save_log_files"`
	SaveRecorderFiles bool   `toml:"save_recorder_files"`
	SaveQlogFiles     bool   `toml:"save_qlog_files"`
	SaveKeylogFiles   bool   `toml:"save_keylog_files"`
	SaveSessionFiles  bool   `toml:"save_session_files"`
}

// Config is the top-level TOML document, mapping the [scheduler],
// [io], [general], and repeated [[connection_config]] sections.
type Config struct {
	Scheduler        SchedulerConfig            `toml:"scheduler"`
	IO               IoConfig                   `toml:"io"`
	General          GeneralConfig              `toml:"general"`
	ConnectionConfig []model.ConnectionConfig   `toml:"connection_config"`
}

// Default returns a Config populated with spec.md §3 defaults plus one
// default connection_config variant.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Concurrency:         0,
			RequestsPerSecond:   0,
			Burst:               1,
			InterAttemptDelayMs: 1000,
		},
		IO: IoConfig{
			InDir:           ".",
			DomainsFileName: "domains.txt",
			OutDir:          "./out",
		},
		General: GeneralConfig{
			LogLevel:          "info",
			SaveLogFiles:      true,
			SaveRecorderFiles: true,
			SaveQlogFiles:     true,
			SaveKeylogFiles:   false,
			SaveSessionFiles:  false,
		},
		ConnectionConfig: []model.ConnectionConfig{model.DefaultConnectionConfig()},
	}
}

// Load reads and validates the TOML file at path, logging a warning
// for every unrecognized key instead of aborting (spec.md §6).
func Load(path string, logger model.Logger) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.ConfigError{Cause: errors.Wrap(err, "reading config file")}
	}
	cfg := Default()
	cfg.ConnectionConfig = nil // the file's ladder replaces, never extends, the default variant
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, &model.ConfigError{Cause: errors.Wrap(err, "parsing config TOML")}
	}
	if len(cfg.ConnectionConfig) == 0 {
		cfg.ConnectionConfig = []model.ConnectionConfig{model.DefaultConnectionConfig()}
	}
	warnUnknownKeys(raw, logger)
	if err := validate(cfg); err != nil {
		return nil, &model.ConfigError{Cause: errors.Wrap(err, "validating config")}
	}
	return cfg, nil
}

// validate enforces the invariants spec.md §8 boundary test 9 requires:
// max_idle_timeout_ms = 0 is rejected at load time.
func validate(cfg *Config) error {
	for i, cc := range cfg.ConnectionConfig {
		if cc.MaxIdleTimeoutMs == 0 {
			return fmt.Errorf("connection_config[%d]: max_idle_timeout_ms must be nonzero", i)
		}
	}
	if cfg.Scheduler.Burst < 1 {
		return fmt.Errorf("scheduler.burst must be >= 1")
	}
	if cfg.IO.OutDir == "" {
		return fmt.Errorf("io.out_dir must be set")
	}
	return nil
}

// warnUnknownKeys decodes raw into a generic tree and logs one Warn
// per top-level or per-table key this Config does not recognize.
func warnUnknownKeys(raw []byte, logger model.Logger) {
	if logger == nil {
		logger = model.DiscardLogger
	}
	var generic map[string]any
	if err := toml.Unmarshal(raw, &generic); err != nil {
		return // already reported by the strict decode above
	}
	known := map[string]map[string]bool{
		"scheduler":         tagSet(reflect.TypeOf(SchedulerConfig{})),
		"io":                tagSet(reflect.TypeOf(IoConfig{})),
		"general":           tagSet(reflect.TypeOf(GeneralConfig{})),
		"connection_config": tagSet(reflect.TypeOf(model.ConnectionConfig{})),
	}
	for section, value := range generic {
		fields, ok := known[section]
		if !ok {
			logger.Warnf("config: unknown top-level section %q", section)
			continue
		}
		warnUnknownInTable(section, value, fields, logger)
	}
}

func warnUnknownInTable(section string, value any, fields map[string]bool, logger model.Logger) {
	switch v := value.(type) {
	case map[string]any:
		for key := range v {
			if !fields[key] {
				logger.Warnf("config: unknown key %q in [%s]", key, section)
			}
		}
	case []map[string]any:
		for _, entry := range v {
			for key := range entry {
				if !fields[key] {
					logger.Warnf("config: unknown key %q in [[%s]]", key, section)
				}
			}
		}
	case []any:
		for _, entry := range v {
			if m, ok := entry.(map[string]any); ok {
				for key := range m {
					if !fields[key] {
						logger.Warnf("config: unknown key %q in [[%s]]", key, section)
					}
				}
			}
		}
	}
}

func tagSet(t reflect.Type) map[string]bool {
	out := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("toml")
		name := strings.SplitN(tag, ",", 2)[0]
		if name != "" {
			out[name] = true
		}
	}
	return out
}
