// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package instrument

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/srctrace/services/srctrace/ast"
	"go.opentelemetry.io/otel/trace"
)

// Options controls a single trace or untrace run.
type Options struct {
	// Mode selects copy or in-place output.
	Mode Mode

	// DryRun computes and reports the work without touching the filesystem.
	DryRun bool

	// Strict fails a file whose parse tree contains syntax errors.
	// Otherwise syntax errors are logged and instrumentation proceeds.
	Strict bool

	// SkipTracedInPlace makes a copy-mode trace skip sources that have a
	// backup. Without it the traced copy is built from the backup.
	SkipTracedInPlace bool
}

// Locker serializes operations on one source path across processes.
type Locker interface {
	AcquireLock(path, reason string) error
	ReleaseLock(path string) error
}

// Recorder receives every finished file result, e.g. for an audit journal.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithResolver sets the extension to grammar resolver.
func WithResolver(r *ast.GrammarResolver) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.resolver = r
		}
	}
}

// WithProvider sets the parser.
func WithProvider(p ast.Provider) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.provider = p
		}
	}
}

// WithFormatter sets the trace statement formatter.
func WithFormatter(f StatementFormatter) EngineOption {
	return func(e *Engine) {
		e.formatter = f
	}
}

// WithMarkers sets the filename markers for traced copies and backups.
func WithMarkers(m Markers) EngineOption {
	return func(e *Engine) {
		e.markers = m
	}
}

// WithLocker enables per-path locking.
func WithLocker(l Locker) EngineOption {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithRecorder sets a recorder that sees every result.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithResultHandler registers fn to be called with each result as soon
// as the file is done.
func WithResultHandler(fn func(Result)) EngineOption {
	return func(e *Engine) {
		e.onResult = fn
	}
}

// WithSkipDirs replaces the directory names skipped by directory walks.
// Hidden directories are always skipped.
func WithSkipDirs(names ...string) EngineOption {
	return func(e *Engine) {
		e.skipDirs = make(map[string]struct{}, len(names))
		for _, n := range names {
			e.skipDirs[n] = struct{}{}
		}
	}
}

// Engine drives trace and untrace operations over files and directories.
//
// Description:
//
//	The engine owns the state machine:
//
//	  trace, copy      writes <name>.<traced>.<ext>, source untouched
//	  trace, in-place  writes <name>.<backup>.<ext> if absent, then
//	                   overwrites the source
//	  untrace, copy    deletes a traced copy whose original exists
//	  untrace, in-place restores the source from its backup and deletes it
//
//	State is never stored; it is read back from the filesystem.
//
// Thread Safety:
//
//	An Engine is safe for concurrent use when its Locker, Recorder and
//	result handler are. Runs are sequential.
type Engine struct {
	resolver  *ast.GrammarResolver
	provider  ast.Provider
	formatter StatementFormatter
	markers   Markers
	locker    Locker
	recorder  Recorder
	logger    *slog.Logger
	onResult  func(Result)
	skipDirs  map[string]struct{}
}

// NewEngine creates an engine with tree-sitter parsing, console.log
// statements and the default markers.
//
// Example:
//
//	engine := instrument.NewEngine(instrument.WithLogger(logger))
//	summary, err := engine.Run(ctx, "./src", instrument.OpTrace, instrument.Options{})
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		resolver:  ast.DefaultGrammarResolver(),
		formatter: DefaultStatementFormatter(),
		markers:   DefaultMarkers(),
		logger:    slog.Default(),
		skipDirs:  map[string]struct{}{"node_modules": {}},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.provider == nil {
		e.provider = ast.NewTreeSitterProvider(ast.WithLogger(e.logger))
	}
	return e
}

// Markers returns the engine's filename markers.
func (e *Engine) Markers() Markers {
	return e.markers
}

// Resolver returns the engine's grammar resolver.
func (e *Engine) Resolver() *ast.GrammarResolver {
	return e.resolver
}

// Supported reports whether path has an extension with a known grammar.
func (e *Engine) Supported(path string) bool {
	_, ok := e.resolver.ResolvePath(path)
	return ok
}

// Instrumented is the product of instrumenting one source text.
type Instrumented struct {
	// Lines is the source split into lines.
	Lines []string

	// Plan is the edit plan, sorted by line descending.
	Plan EditPlan

	// Output is the instrumented content.
	Output []byte

	// SyntaxErrorLine is the 1-based line of the first syntax error, or 0.
	SyntaxErrorLine int
}

// Instrument parses content as the source at path and returns the
// instrumented text. Nothing is read from or written to disk.
//
// Outputs:
//
//	*Instrumented - Plan and output. Never nil on success.
//	error         - ast.ErrUnsupportedGrammar for unknown extensions, a
//	                *ast.ParseError on parse failure, or ast.ErrSyntax
//	                in strict mode when the tree has errors.
func (e *Engine) Instrument(ctx context.Context, path string, content []byte, strict bool) (*Instrumented, error) {
	grammar, ok := e.resolver.ResolvePath(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ast.ErrUnsupportedGrammar, filepath.Ext(path))
	}

	root, err := e.provider.Parse(ctx, content, grammar)
	if err != nil {
		return nil, ast.WrapParseError(err, path)
	}

	errLine := ast.FirstErrorLine(root)
	if errLine > 0 {
		if strict {
			return nil, &ast.ParseError{
				FilePath: path,
				Line:     errLine,
				Message:  "syntax error",
				Cause:    ast.ErrSyntax,
			}
		}
		e.logger.Warn("Source has syntax errors, instrumenting recovered tree",
			slog.String("path", path),
			slog.Int("line", errLine))
	}

	lines := SplitLines(content)
	plan := Plan(root, lines, func(line int) string {
		return e.formatter.Format(path, line)
	})

	return &Instrumented{
		Lines:           lines,
		Plan:            plan,
		Output:          Join(Apply(lines, plan)),
		SyntaxErrorLine: errLine,
	}, nil
}

// Trace instruments one source file.
//
// Failures are reported in the result; Trace never panics on bad input
// and never leaves a partially written file behind.
func (e *Engine) Trace(ctx context.Context, path string, opts Options) (res Result) {
	start := time.Now()
	ctx, span := startFileSpan(ctx, OpTrace, opts.Mode, path)
	res = Result{Path: path, Op: OpTrace, Mode: opts.Mode}
	defer func() { e.finish(ctx, span, start, &res) }()

	if e.markers.IsArtifact(path) {
		return skipped(res, ErrArtifact, "already a trace artifact, trace its original instead")
	}
	if !e.Supported(path) {
		return skipped(res, fmt.Errorf("%w: %q", ast.ErrUnsupportedGrammar, filepath.Ext(path)), "unsupported file type")
	}
	if !hasStem(path) {
		return skipped(res, ErrNoStem, "file name has no stem to mark, rename it")
	}

	if !opts.DryRun {
		release, err := e.lock(path, "trace")
		if err != nil {
			return failed(res, err)
		}
		defer release()
	}

	content, err := e.traceInput(path, opts)
	if err != nil {
		if errors.Is(err, ErrTracedInPlace) {
			return skipped(res, err, "traced in place, untrace it first")
		}
		return failed(res, err)
	}

	inst, err := e.Instrument(ctx, path, content, opts.Strict)
	if err != nil {
		return failed(res, err)
	}
	res.Plan = inst.Plan
	res.Insertions = len(inst.Plan)

	if opts.Mode == ModeInPlace {
		res.Target = path
	} else {
		res.Target = e.markers.TracedPath(path)
	}

	if opts.DryRun {
		res.Diff, err = PreviewDiff(path, res.Target, inst.Lines, inst.Plan)
		if err != nil {
			return failed(res, err)
		}
		res.Outcome = OutcomePlanned
		res.Message = fmt.Sprintf("would insert %d statements into %s", res.Insertions, res.Target)
		return res
	}

	perm := fileMode(path)
	if opts.Mode == ModeInPlace {
		backup := e.markers.BackupPath(path)
		has, err := exists(backup)
		if err != nil {
			return failed(res, fmt.Errorf("checking backup: %w", err))
		}
		if !has {
			if err := atomicWriteFile(backup, content, perm); err != nil {
				return failed(res, fmt.Errorf("writing backup %s: %w", backup, err))
			}
		}
	}

	if err := atomicWriteFile(res.Target, inst.Output, perm); err != nil {
		return failed(res, fmt.Errorf("writing %s: %w", res.Target, err))
	}

	res.Outcome = OutcomeTraced
	res.Message = fmt.Sprintf("inserted %d statements", res.Insertions)
	return res
}

// traceInput returns the text to instrument for path. In copy mode a
// source that is traced in place is read from its backup, so the traced
// copy never instruments trace statements.
func (e *Engine) traceInput(path string, opts Options) ([]byte, error) {
	if opts.Mode == ModeCopy {
		backup := e.markers.BackupPath(path)
		has, err := exists(backup)
		if err != nil {
			return nil, fmt.Errorf("checking backup: %w", err)
		}
		if has {
			if opts.SkipTracedInPlace {
				return nil, fmt.Errorf("%w: %s", ErrTracedInPlace, filepath.Base(backup))
			}
			data, err := os.ReadFile(backup)
			if err != nil {
				return nil, fmt.Errorf("reading backup: %w", err)
			}
			return data, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	return data, nil
}

// Untrace reverses a previous trace of path.
//
// In copy mode path must be the traced copy; in in-place mode it is the
// instrumented source. Missing preconditions are reported as skipped and
// leave every file untouched.
func (e *Engine) Untrace(ctx context.Context, path string, opts Options) (res Result) {
	start := time.Now()
	ctx, span := startFileSpan(ctx, OpUntrace, opts.Mode, path)
	res = Result{Path: path, Op: OpUntrace, Mode: opts.Mode}
	defer func() { e.finish(ctx, span, start, &res) }()

	if opts.Mode == ModeInPlace {
		return e.restoreBackup(path, opts, res)
	}
	return e.removeTracedCopy(path, opts, res)
}

func (e *Engine) removeTracedCopy(path string, opts Options, res Result) Result {
	original, ok := e.markers.OriginalFromTraced(path)
	if !ok {
		return skipped(res, ErrNotTracedCopy,
			fmt.Sprintf("expected a traced copy such as %s", filepath.Base(e.markers.TracedPath(path))))
	}

	has, err := exists(original)
	if err != nil {
		return failed(res, fmt.Errorf("checking original: %w", err))
	}
	if !has {
		return skipped(res, ErrOriginalMissing,
			fmt.Sprintf("original %s not found, keeping traced copy", filepath.Base(original)))
	}

	res.Target = path
	if opts.DryRun {
		res.Outcome = OutcomePlanned
		res.Message = "would remove traced copy"
		return res
	}

	release, err := e.lock(original, "untrace")
	if err != nil {
		return failed(res, err)
	}
	defer release()

	if err := os.Remove(path); err != nil {
		return failed(res, fmt.Errorf("removing traced copy: %w", err))
	}

	res.Outcome = OutcomeRemoved
	res.Message = "removed traced copy"
	return res
}

func (e *Engine) restoreBackup(path string, opts Options, res Result) Result {
	backup := e.markers.BackupPath(path)
	has, err := exists(backup)
	if err != nil {
		return failed(res, fmt.Errorf("checking backup: %w", err))
	}
	if !has {
		return skipped(res, ErrNoBackup, "no backup found")
	}

	res.Target = path
	if opts.DryRun {
		res.Outcome = OutcomePlanned
		res.Message = fmt.Sprintf("would restore from %s", filepath.Base(backup))
		return res
	}

	release, err := e.lock(path, "untrace")
	if err != nil {
		return failed(res, err)
	}
	defer release()

	data, err := os.ReadFile(backup)
	if err != nil {
		return failed(res, fmt.Errorf("reading backup: %w", err))
	}
	if err := atomicWriteFile(path, data, fileMode(backup)); err != nil {
		return failed(res, fmt.Errorf("restoring source: %w", err))
	}
	if err := os.Remove(backup); err != nil {
		return failed(res, fmt.Errorf("source restored but backup not removed: %w", err))
	}

	res.Outcome = OutcomeRestored
	res.Message = "restored from backup"
	return res
}

// Run applies op to target, a file or a directory.
//
// Description:
//
//	A file is processed directly. A directory is walked depth-first in
//	lexical order, skipping hidden directories and the configured skip
//	list; each candidate file is processed independently and failures
//	never stop the walk.
//
//	Directory candidates depend on the operation:
//	  trace             supported files that are not artifacts
//	  untrace, copy     traced copies
//	  untrace, in-place sources that have a backup
//
// Outputs:
//
//	*Summary - One result per processed file.
//	error    - ErrPathNotFound or ErrInvalidPath for the target itself,
//	           or the context error if the run was canceled.
func (e *Engine) Run(ctx context.Context, target string, op Operation, opts Options) (*Summary, error) {
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, target)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, target, err)
	}

	summary := &Summary{}

	switch {
	case info.Mode().IsRegular():
		summary.Add(e.apply(ctx, target, op, opts))
		return summary, nil
	case info.IsDir():
	default:
		return nil, fmt.Errorf("%w: %s is not a file or directory", ErrInvalidPath, target)
	}

	e.logger.Info("Processing directory",
		slog.String("path", target),
		slog.String("op", op.String()),
		slog.String("mode", opts.Mode.String()),
		slog.Bool("dry_run", opts.DryRun))

	files, walkErrs := e.collect(target, op, opts.Mode)
	for _, r := range walkErrs {
		summary.Add(r)
		e.emit(r)
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Add(e.apply(ctx, f, op, opts))
	}
	return summary, nil
}

func (e *Engine) apply(ctx context.Context, path string, op Operation, opts Options) Result {
	if op == OpUntrace {
		return e.Untrace(ctx, path, opts)
	}
	return e.Trace(ctx, path, opts)
}

// collect walks root and returns the files op applies to, in lexical
// order. Unreadable entries become failed results.
func (e *Engine) collect(root string, op Operation, mode Mode) ([]string, []Result) {
	var files []string
	var failures []Result
	seen := make(map[string]struct{})

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			failures = append(failures, Result{
				Path:    path,
				Op:      op,
				Mode:    mode,
				Outcome: OutcomeFailed,
				Err:     err,
				Message: "cannot read: " + err.Error(),
			})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && e.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !e.Supported(path) {
			return nil
		}

		candidate, ok := e.candidate(path, op, mode)
		if !ok {
			return nil
		}
		if _, dup := seen[candidate]; dup {
			return nil
		}
		seen[candidate] = struct{}{}
		files = append(files, candidate)
		return nil
	})

	return files, failures
}

// candidate maps a walked file to the path the operation runs on.
func (e *Engine) candidate(path string, op Operation, mode Mode) (string, bool) {
	switch {
	case op == OpTrace:
		return path, !e.markers.IsArtifact(path)
	case mode == ModeCopy:
		return path, e.markers.IsTracedCopy(path)
	default:
		return e.markers.OriginalFromBackup(path)
	}
}

func (e *Engine) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		return true
	}
	_, ok := e.skipDirs[name]
	return ok
}

// Status reports the trace state of a single source file.
func (e *Engine) Status(path string) (FileStatus, error) {
	return DetectStatus(path, e.markers)
}

// StatusTree reports the state of target, or of every supported
// non-artifact file under it when target is a directory.
//
// Entries that cannot be walked or inspected come back as failed results
// alongside the statuses; they never hide the rest of the tree.
func (e *Engine) StatusTree(target string) ([]FileStatus, []Result, error) {
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrPathNotFound, target)
		}
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, target, err)
	}

	files := []string{target}
	var failures []Result
	if info.IsDir() {
		files, failures = e.collect(target, OpTrace, ModeCopy)
	}

	statuses := make([]FileStatus, 0, len(files))
	for _, f := range files {
		st, err := e.Status(f)
		if err != nil {
			failures = append(failures, Result{
				Path:    f,
				Op:      OpTrace,
				Outcome: OutcomeFailed,
				Err:     err,
				Message: "cannot inspect artifacts: " + err.Error(),
			})
			continue
		}
		statuses = append(statuses, st)
	}
	return statuses, failures, nil
}

// lock acquires the per-path lock if locking is enabled and returns the
// matching release function.
func (e *Engine) lock(path, reason string) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	if err := e.locker.AcquireLock(path, reason); err != nil {
		return nil, err
	}
	return func() {
		if err := e.locker.ReleaseLock(path); err != nil {
			e.logger.Warn("Failed to release lock",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}, nil
}

// finish stamps the duration and fans the result out to metrics, the
// span, the recorder, the logger and the result handler.
func (e *Engine) finish(ctx context.Context, span trace.Span, start time.Time, res *Result) {
	res.Duration = time.Since(start)

	recordResult(ctx, *res)
	endFileSpan(span, *res)

	if e.recorder != nil && (res.Changed() || res.Outcome == OutcomeFailed) {
		if err := e.recorder.Record(ctx, *res); err != nil {
			e.logger.Warn("Failed to record result",
				slog.String("path", res.Path),
				slog.String("error", err.Error()))
		}
	}

	attrs := []any{
		slog.String("path", res.Path),
		slog.String("op", res.Op.String()),
		slog.String("mode", res.Mode.String()),
		slog.String("outcome", res.Outcome.String()),
		slog.Int("insertions", res.Insertions),
		slog.Duration("duration", res.Duration),
	}
	switch res.Outcome {
	case OutcomeFailed:
		e.logger.Error("File operation failed", append(attrs, slog.Any("error", res.Err))...)
	case OutcomeSkipped:
		e.logger.Debug("File skipped", append(attrs, slog.Any("reason", res.Err))...)
	default:
		e.logger.Debug("File processed", attrs...)
	}

	e.emit(*res)
}

func (e *Engine) emit(r Result) {
	if e.onResult != nil {
		e.onResult(r)
	}
}

func skipped(res Result, err error, msg string) Result {
	res.Outcome = OutcomeSkipped
	res.Err = err
	res.Message = msg
	return res
}

func failed(res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Message = err.Error()
	return res
}
