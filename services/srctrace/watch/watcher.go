// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch keeps traced copies up to date while sources are edited.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileChange is a debounced file system change.
type FileChange struct {
	// Path is the path of the changed file as reported by the watcher.
	Path string

	// Op is the last operation seen for Path in the batch.
	Op FileOp

	// Time is when the change was detected.
	Time time.Time
}

// FileOp is the kind of change.
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
	FileOpRename
)

// String returns the operation name.
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "create"
	case FileOpWrite:
		return "write"
	case FileOpRemove:
		return "remove"
	case FileOpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileChangeHandler receives each debounced batch. It is called from a
// single goroutine.
type FileChangeHandler func(ctx context.Context, changes []FileChange)

// IgnoreFunc reports whether a path should produce no events. Directories
// it matches are not watched at all.
type IgnoreFunc func(path string, isDir bool) bool

// Options configures a FileWatcher.
type Options struct {
	// DebounceWindow is how long to wait for more changes before the
	// handler runs. Default: 200ms.
	DebounceWindow time.Duration

	// SkipDirs are directory names never watched. Hidden directories are
	// always skipped. Default: node_modules.
	SkipDirs []string

	// Ignore filters individual paths in addition to SkipDirs.
	Ignore IgnoreFunc

	// BufferSize is the size of the change channel. Default: 1000.
	BufferSize int

	// Logger receives watcher errors. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 200 * time.Millisecond,
		SkipDirs:       []string{"node_modules"},
		BufferSize:     1000,
	}
}

// FileWatcher watches a directory tree and delivers debounced batches.
//
// # Description
//
// Changes are collected in a buffer. When the debounce window passes
// without a new change, the batch is deduplicated per path and handed
// to the handler. Editors that save through temp files and renames
// produce one batch per save.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single goroutine.
type FileWatcher struct {
	root     string
	watcher  *fsnotify.Watcher
	handler  FileChangeHandler
	debounce time.Duration
	skipDirs map[string]struct{}
	ignore   IgnoreFunc
	logger   *slog.Logger

	changes  chan FileChange
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.RWMutex
	watching bool
}

// NewFileWatcher creates a watcher for root. Call Start or Run to begin.
func NewFileWatcher(root string, handler FileChangeHandler, opts *Options) (*FileWatcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultOptions().DebounceWindow
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	skip := make(map[string]struct{}, len(opts.SkipDirs))
	for _, d := range opts.SkipDirs {
		skip[d] = struct{}{}
	}

	return &FileWatcher{
		root:     root,
		watcher:  watcher,
		handler:  handler,
		debounce: opts.DebounceWindow,
		skipDirs: skip,
		ignore:   opts.Ignore,
		logger:   logger,
		changes:  make(chan FileChange, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start watches root recursively and returns. Events are processed until
// Stop is called or ctx is canceled.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Run starts the watcher and blocks until ctx is canceled, then stops it.
// The returned error is nil after a clean shutdown.
func (w *FileWatcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	select {
	case <-ctx.Done():
	case <-w.done:
	}
	w.Stop()
	return nil
}

// Stop stops watching and waits for a pending batch to be delivered.
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *FileWatcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

func (w *FileWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *FileWatcher) skipDir(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return true
	}
	if _, ok := w.skipDirs[name]; ok {
		return true
	}
	return w.ignore != nil && w.ignore(path, true)
}

func (w *FileWatcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	isDir := false
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
			if !w.skipDir(event.Name) {
				if err := w.addRecursive(event.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
					w.logger.Warn("Failed to watch new directory",
						slog.String("path", event.Name),
						slog.String("error", err.Error()))
				}
			}
		}
	}
	if isDir || (w.ignore != nil && w.ignore(event.Name, false)) {
		return
	}

	change := FileChange{
		Path: event.Name,
		Op:   convertOp(event.Op),
		Time: time.Now(),
	}

	select {
	case w.changes <- change:
	default:
		w.logger.Warn("Dropping file change, buffer full", slog.String("path", event.Name))
	}
}

func convertOp(op fsnotify.Op) FileOp {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate
	case op.Has(fsnotify.Write):
		return FileOpWrite
	case op.Has(fsnotify.Remove):
		return FileOpRemove
	case op.Has(fsnotify.Rename):
		return FileOpRename
	default:
		return FileOpWrite
	}
}

func (w *FileWatcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	var batch []FileChange
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			deduped := deduplicateChanges(batch)
			if w.handler != nil {
				w.handler(ctx, deduped)
			}
			batch = nil
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// deduplicateChanges keeps the most recent change per path, in order of
// first appearance.
func deduplicateChanges(changes []FileChange) []FileChange {
	seen := make(map[string]int)
	result := make([]FileChange, 0, len(changes))

	for _, change := range changes {
		if idx, ok := seen[change.Path]; ok {
			result[idx] = change
			continue
		}
		seen[change.Path] = len(result)
		result = append(result, change)
	}
	return result
}
