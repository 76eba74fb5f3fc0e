// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/srctrace/services/srctrace/instrument"
)

// Engine temp files are named .srctrace-*.tmp.
const tempPrefix, tempSuffix = ".srctrace-", ".tmp"

// Retracer re-traces sources in copy mode when they change.
//
// # Description
//
// Sources that are created or written get a fresh traced copy, unless
// they are currently traced in place. Sources
// that disappear take their traced copy with them. Traced copies, backups
// and the engine's temp files are ignored, so the retracer's own writes
// never feed back into it.
//
// # Thread Safety
//
// Handle is meant to be called from one goroutine, the watcher's.
type Retracer struct {
	engine *instrument.Engine
	opts   instrument.Options
	only   string
	logger *slog.Logger
}

// NewRetracer creates a retracer for engine. If only is non-empty, every
// path but that file is ignored.
func NewRetracer(engine *instrument.Engine, strict bool, only string, logger *slog.Logger) *Retracer {
	if logger == nil {
		logger = slog.Default()
	}
	if only != "" {
		if abs, err := filepath.Abs(only); err == nil {
			only = abs
		}
	}
	return &Retracer{
		engine: engine,
		opts: instrument.Options{
			Mode:              instrument.ModeCopy,
			Strict:            strict,
			SkipTracedInPlace: true,
		},
		only:   only,
		logger: logger,
	}
}

// Ignore reports whether path is irrelevant to the retracer. It is meant
// to be passed as Options.Ignore.
func (r *Retracer) Ignore(path string, isDir bool) bool {
	if isDir {
		return false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, tempPrefix) && strings.HasSuffix(base, tempSuffix) {
		return true
	}
	if r.only != "" {
		abs, err := filepath.Abs(path)
		if err != nil || abs != r.only {
			return true
		}
	}
	return !r.engine.Supported(path) || r.engine.Markers().IsArtifact(path)
}

// Handle processes one batch of changes. It implements FileChangeHandler.
func (r *Retracer) Handle(ctx context.Context, changes []FileChange) {
	for _, ch := range changes {
		if ctx.Err() != nil {
			return
		}
		if r.Ignore(ch.Path, false) {
			continue
		}

		info, err := os.Stat(ch.Path)
		switch {
		case err == nil && info.Mode().IsRegular():
			if st, err := r.engine.Status(ch.Path); err == nil && st.HasBackup {
				r.logger.Debug("Skipping source traced in place", slog.String("path", ch.Path))
				continue
			}
			r.engine.Trace(ctx, ch.Path, r.opts)
		case errors.Is(err, fs.ErrNotExist):
			r.removeOrphan(ch.Path)
		case err != nil:
			r.logger.Warn("Cannot stat changed file",
				slog.String("path", ch.Path),
				slog.String("error", err.Error()))
		}
	}
}

// InitialTrace brings every traced copy under root up to date. Sources
// traced in place are reported as skipped.
func (r *Retracer) InitialTrace(ctx context.Context, root string) (*instrument.Summary, error) {
	target := root
	if r.only != "" {
		target = r.only
	}
	return r.engine.Run(ctx, target, instrument.OpTrace, r.opts)
}

func (r *Retracer) removeOrphan(source string) {
	traced := r.engine.Markers().TracedPath(source)
	err := os.Remove(traced)
	switch {
	case err == nil:
		r.logger.Info("Removed traced copy of deleted source",
			slog.String("source", source),
			slog.String("traced", traced))
	case !errors.Is(err, fs.ErrNotExist):
		r.logger.Warn("Failed to remove orphaned traced copy",
			slog.String("traced", traced),
			slog.String("error", err.Error()))
	}
}
