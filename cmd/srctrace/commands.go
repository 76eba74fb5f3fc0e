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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/srctrace/services/srctrace/instrument"
)

// traceFlags are the flags of the trace and root commands.
type traceFlags struct {
	inPlace bool
	untrace bool
	dryRun  bool
	strict  bool
}

func addTraceFlags(cmd *cobra.Command, f *traceFlags) {
	cmd.Flags().BoolVarP(&f.inPlace, "in-place", "i", false, "modify sources directly, keeping a backup")
	cmd.Flags().BoolVarP(&f.untrace, "untrace", "u", false, "remove instrumentation instead of adding it")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "show what would change without writing")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "fail files that contain syntax errors")
}

func newRootCmd(a *app) *cobra.Command {
	var tf traceFlags

	root := &cobra.Command{
		Use:   "srctrace <path>",
		Short: "Insert line-trace statements into JavaScript and TypeScript sources",
		Long: `srctrace inserts a call such as console.log('/abs/path/app.js:12'); after
every top-level statement of .js, .jsx, .mjs, .cjs, .ts, .mts, .cts and .tsx
files, and removes it again.

By default a traced copy is written next to each source (app.traced.js).
With --in-place the source itself is rewritten and the original is kept
as a backup (app.untraced.js) until the file is untraced.`,
		Version:       version,
		Args:          pathArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, a, args[0], tf)
		},
	}
	addTraceFlags(root, &tf)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default ./.srctrace.yaml if present)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "diagnostic log level: debug, info, warn or error")
	pf.BoolVar(&a.flags.logJSON, "log-json", false, "write diagnostic logs as JSON")
	pf.StringVarP(&a.flags.output, "output", "o", "", "output mode: styled, plain or machine (default: detect)")
	pf.StringVar(&a.flags.callee, "callee", "", "function called by trace statements (default console.log)")
	pf.StringVar(&a.flags.pathStyle, "path-style", "", "path embedded in statements: absolute or relative")
	pf.StringVar(&a.flags.root, "root", "", "base directory for relative paths")

	root.AddCommand(
		newTraceCmd(a),
		newUntraceCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
	)
	return root
}

// pathArgs requires exactly one target path. A missing path is a
// configuration error and exits non-zero.
func pathArgs(_ *cobra.Command, args []string) error {
	switch len(args) {
	case 1:
		return nil
	case 0:
		return fatal(errors.New("missing target path"))
	default:
		return fatal(fmt.Errorf("expected one path, got %d", len(args)))
	}
}

func newTraceCmd(a *app) *cobra.Command {
	var tf traceFlags
	cmd := &cobra.Command{
		Use:   "trace <path>",
		Short: "Instrument a file or every supported file under a directory",
		Args:  pathArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, a, args[0], tf)
		},
	}
	addTraceFlags(cmd, &tf)
	return cmd
}

func newUntraceCmd(a *app) *cobra.Command {
	var tf traceFlags
	cmd := &cobra.Command{
		Use:   "untrace <path>",
		Short: "Remove traced copies, or restore in-place traced sources from backup",
		Long: `Without --in-place, path is a traced copy (app.traced.js) or a directory;
every traced copy whose original still exists is deleted.

With --in-place, path is an instrumented source or a directory; each
source with a backup is restored from it and the backup is deleted.`,
		Args: pathArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tf.untrace = true
			return runTrace(cmd, a, args[0], tf)
		},
	}
	cmd.Flags().BoolVarP(&tf.inPlace, "in-place", "i", false, "restore sources from their backups")
	cmd.Flags().BoolVar(&tf.dryRun, "dry-run", false, "show what would change without writing")
	return cmd
}

// runTrace is shared by the root, trace and untrace commands.
func runTrace(cmd *cobra.Command, a *app, target string, tf traceFlags) error {
	op := instrument.OpTrace
	if tf.untrace {
		op = instrument.OpUntrace
	}
	// Flags given on the command line win over the config, in both directions.
	inPlace, strict := a.cfg.InPlace(), a.cfg.Strict
	flags := cmd.Flags()
	if flags.Changed("in-place") {
		inPlace = tf.inPlace
	}
	if flags.Changed("strict") {
		strict = tf.strict
	}

	opts := instrument.Options{
		Mode:   instrument.ModeCopy,
		DryRun: tf.dryRun,
		Strict: strict,
	}
	if inPlace {
		opts.Mode = instrument.ModeInPlace
	}

	r := newReporter(a.printer)
	engine := a.engine(instrument.WithResultHandler(r.result))

	summary, err := engine.Run(cmd.Context(), target, op, opts)
	if err != nil {
		if errors.Is(err, instrument.ErrPathNotFound) || errors.Is(err, instrument.ErrInvalidPath) {
			return fatal(err)
		}
		if summary != nil {
			r.summary(summary, opts.DryRun)
		}
		return err
	}
	r.summary(summary, opts.DryRun)
	return nil
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [path]",
		Short: "Show the trace state of a file or of every supported file under a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			statuses, failures, err := a.engine().StatusTree(target)
			if err != nil {
				if errors.Is(err, instrument.ErrPathNotFound) || errors.Is(err, instrument.ErrInvalidPath) {
					return fatal(err)
				}
				return err
			}
			r := newReporter(a.printer)
			r.statuses(statuses)
			for _, f := range failures {
				r.result(f)
			}
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
