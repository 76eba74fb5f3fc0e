// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/srctrace/pkg/logging"
	"github.com/AleutianAI/srctrace/pkg/ux"
	"github.com/AleutianAI/srctrace/services/srctrace/config"
	"github.com/AleutianAI/srctrace/services/srctrace/instrument"
	"github.com/AleutianAI/srctrace/services/srctrace/journal"
	"github.com/AleutianAI/srctrace/services/srctrace/lock"
	"github.com/AleutianAI/srctrace/services/srctrace/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
	output     string
	callee     string
	pathStyle  string
	root       string
}

// app holds everything a command needs once flags are parsed.
type app struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer

	// metricsAddr is set by the watch command; it forces the prometheus
	// metric exporter.
	metricsAddr string

	cfg      config.Config
	logger   *logging.Logger
	printer  *ux.Printer
	locks    *lock.FileLockManager
	journal  *journal.Journal
	shutdown func(context.Context) error
}

// exitError carries a process exit code for failures that are not
// per-file problems: a bad target path or an invalid configuration.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &exitError{code: 1, err: err}
}

// setup resolves configuration and opens the shared resources.
func (a *app) setup(cmd *cobra.Command) error {
	mode, _, err := ux.ParseMode(a.flags.output)
	if err != nil {
		return fatal(err)
	}

	cfg, source, err := config.Load(a.flags.configPath)
	if err != nil {
		return fatal(err)
	}
	if err := a.applyFlags(cmd, &cfg); err != nil {
		return fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		return fatal(err)
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fatal(err)
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		JSON:    cfg.Log.JSON,
		LogDir:  cfg.Log.Dir,
		Service: "srctrace",
		Writer:  a.stderr,
	})
	a.printer = ux.NewPrinter(a.stdout, a.stderr, mode)
	if source != "" {
		a.logger.Debug("Loaded config", "path", source)
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Writer = a.stderr
	if cfg.Telemetry.TraceExporter != "" {
		tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	}
	if cfg.Telemetry.MetricExporter != "" {
		tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if a.metricsAddr != "" {
		tcfg.MetricExporter = telemetry.ExporterPrometheus
	}
	a.shutdown, err = telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return fatal(err)
	}

	if cfg.Lock.Enabled {
		mcfg := lock.DefaultManagerConfig()
		if cfg.Lock.Dir != "" {
			mcfg.LockDir = cfg.Lock.Dir
		}
		a.locks, err = lock.NewFileLockManager(mcfg)
		if err != nil {
			a.logger.Warn("File locking disabled", "error", err.Error())
			a.locks = nil
		}
	}

	if cfg.Journal.Enabled {
		if err := a.openJournal(); err != nil {
			a.printer.Warning(fmt.Sprintf("journal unavailable, results will not be recorded: %v", err))
		}
	}
	return nil
}

// applyFlags lets explicitly set flags override the loaded config.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if a.flags.callee != "" {
		cfg.Callee = a.flags.callee
	}
	if a.flags.pathStyle != "" {
		cfg.PathStyle = a.flags.pathStyle
	}
	if a.flags.root != "" {
		cfg.Root = a.flags.root
	}
	if a.flags.logLevel != "" {
		if _, err := logging.ParseLevel(a.flags.logLevel); err != nil {
			return err
		}
		cfg.Log.Level = a.flags.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = a.flags.logJSON
	}
	return nil
}

func (a *app) openJournal() error {
	if a.journal != nil {
		return nil
	}
	jcfg := journal.DefaultConfig()
	if a.cfg.Journal.Path != "" {
		jcfg.Path = a.cfg.Journal.Path
	}
	jcfg.Retention = a.cfg.Journal.Retention
	jcfg.GCInterval = 10 * time.Minute
	jcfg.Logger = a.logger.Slog()

	j, err := journal.Open(jcfg)
	if err != nil {
		return err
	}
	a.journal = j
	a.logger.Debug("Opened journal", "path", jcfg.Path, "session", j.Session())
	return nil
}

// engine builds an instrument engine from the resolved config.
func (a *app) engine(extra ...instrument.EngineOption) *instrument.Engine {
	opts := []instrument.EngineOption{
		instrument.WithFormatter(a.cfg.Formatter()),
		instrument.WithMarkers(a.cfg.ToMarkers()),
		instrument.WithSkipDirs(a.cfg.SkipDirs...),
		instrument.WithLogger(a.logger.Slog()),
	}
	if a.locks != nil {
		opts = append(opts, instrument.WithLocker(a.locks))
	}
	if a.journal != nil {
		opts = append(opts, instrument.WithRecorder(a.journal))
	}
	return instrument.NewEngine(append(opts, extra...)...)
}

// close releases everything setup opened. Errors are logged.
func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("Failed to close journal", "error", err.Error())
		}
		a.journal = nil
	}
	if a.locks != nil {
		if err := a.locks.Close(); err != nil {
			a.logger.Warn("Failed to release locks", "error", err.Error())
		}
		a.locks = nil
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("Telemetry shutdown failed", "error", err.Error())
		}
		cancel()
		a.shutdown = nil
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()
	if err == nil {
		return 0
	}

	if a.printer != nil {
		a.printer.Error(err.Error())
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}
