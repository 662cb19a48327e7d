// Command quic-lab-runner is the CLI entry point of spec.md §6: a
// single root command taking one optional positional config path
// (default "quic-lab.toml"), wiring configuration, domain input, the
// shared artifact sinks, and the Scheduler, the way the teacher's
// cmd/remoted wires a single cobra command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/QUIC-Lab/quic-lab/internal/config"
	"github.com/QUIC-Lab/quic-lab/internal/keylog"
	"github.com/QUIC-Lab/quic-lab/internal/logx"
	"github.com/QUIC-Lab/quic-lab/internal/model"
	"github.com/QUIC-Lab/quic-lab/internal/probe/http3probe"
	"github.com/QUIC-Lab/quic-lab/internal/qlogmux"
	"github.com/QUIC-Lab/quic-lab/internal/recorder"
	"github.com/QUIC-Lab/quic-lab/internal/resolve"
	"github.com/QUIC-Lab/quic-lab/internal/scheduler"
	"github.com/QUIC-Lab/quic-lab/internal/session"
)

// exit codes, per spec.md §6's CLI contract.
const (
	exitOK           = 0
	exitConfigError  = 2
	exitIoError      = 3
	exitInterrupted  = 130
)

// defaultMaxArtifactBytes is the RotatingWriter rollover threshold for
// every sink; spec.md §3/§6 does not expose this as a config field, so
// it is a fixed engine constant rather than new surface area.
const defaultMaxArtifactBytes = 64 << 20

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	code := exitOK
	cmd := &cobra.Command{
		Use:   "quic-lab-runner [config_path]",
		Short: "Drive a configured QUIC/HTTP3 probing run against a domain list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			configPath := "quic-lab.toml"
			if len(cmdArgs) == 1 {
				configPath = cmdArgs[0]
			}
			c := mainWithConfig(configPath)
			code = c
			return nil
		},
	}
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	return code
}

// mainWithConfig implements the bulk of the CLI, returning an exit
// code instead of calling os.Exit directly so tests can call it
// without terminating the process, mirroring the teacher's own
// MainWithConfiguration(options) separation from Main().
func mainWithConfig(configPath string) int {
	bootLogger := logx.NewLogger(os.Stderr, logx.ParseLevel("info"))

	cfg, err := config.Load(configPath, bootLogger)
	if err != nil {
		bootLogger.Warnf("config: %v", err)
		return exitConfigError
	}

	level := cfg.General.LogLevel
	if override := os.Getenv("RUST_LOG"); override != "" {
		level = override
	}
	logWriter, closeLog, err := openLogWriter(cfg)
	if err != nil {
		bootLogger.Warnf("io: %v", err)
		return exitIoError
	}
	defer closeLog()
	logger := logx.NewLogger(logWriter, logx.ParseLevel(level))

	domainsPath := filepath.Join(cfg.IO.InDir, cfg.IO.DomainsFileName)
	domains, err := config.LoadDomains(domainsPath)
	if err != nil {
		logger.Warnf("io: loading domains: %v", err)
		return exitIoError
	}

	sinks, closeSinks, err := openSinks(cfg, logger)
	if err != nil {
		logger.Warnf("io: opening artifact sinks: %v", err)
		return exitIoError
	}
	defer closeSinks()

	resolver := resolve.New()
	sched := scheduler.New(cfg.Scheduler, cfg.ConnectionConfig, resolver, sinks, http3probe.New, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Run(ctx, domains); err != nil {
		if ctx.Err() != nil {
			logger.Warnf("run: interrupted")
			return exitInterrupted
		}
		logger.Warnf("run: %v", err)
	}
	return exitOK
}

func openLogWriter(cfg *config.Config) (*os.File, func(), error) {
	if !cfg.General.SaveLogFiles {
		return os.Stderr, func() {}, nil
	}
	dir := filepath.Join(cfg.IO.OutDir, "log_files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "quic-lab.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// openSinks wires recorder_files, qlog_files, keylog_files, and
// session_files, honoring each GeneralConfig toggle, per spec.md §6's
// on-disk artifact layout.
func openSinks(cfg *config.Config, logger model.Logger) (scheduler.Sinks, func(), error) {
	var sinks scheduler.Sinks
	var closers []func() error

	if cfg.General.SaveRecorderFiles {
		dir := filepath.Join(cfg.IO.OutDir, "recorder_files")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return sinks, nil, err
		}
		rec, err := recorder.New(filepath.Join(dir, "quic-lab-recorder.jsonl"), defaultMaxArtifactBytes)
		if err != nil {
			return sinks, nil, err
		}
		sinks.Recorder = rec
		closers = append(closers, rec.Close)
	}

	if cfg.General.SaveQlogFiles {
		dir := filepath.Join(cfg.IO.OutDir, "qlog_files")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return sinks, nil, err
		}
		header := qlogmux.Header{
			Title:       "quic-lab-runner",
			Description: "aggregated QUIC/HTTP3 transport traces",
		}
		mux, err := qlogmux.New(filepath.Join(dir, "quic-lab.sqlog"), defaultMaxArtifactBytes, false, header, logger)
		if err != nil {
			return sinks, nil, err
		}
		sinks.Mux = mux
		closers = append(closers, mux.Close)
	}

	if cfg.General.SaveKeylogFiles {
		dir := filepath.Join(cfg.IO.OutDir, "keylog_files")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return sinks, nil, err
		}
		keySink, err := keylog.New(filepath.Join(dir, "quic-lab.keylog"), defaultMaxArtifactBytes)
		if err != nil {
			return sinks, nil, err
		}
		sinks.KeySink = keySink
		closers = append(closers, keySink.Close)
	}

	if cfg.General.SaveSessionFiles {
		dir := filepath.Join(cfg.IO.OutDir, "session_files")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return sinks, nil, err
		}
		sinks.Sessions = session.New(dir)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warnf("io: closing artifact sink: %v", err)
			}
		}
	}
	return sinks, closeAll, nil
}
