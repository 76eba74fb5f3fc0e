// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal keeps an audit history of trace and untrace operations
// in BadgerDB.
//
// The journal is write-only from the engine's point of view: trace state
// is always derived from the filesystem, and nothing read from the
// journal feeds back into an operation.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/srctrace/services/srctrace/instrument"
)

const entryPrefix = "entry/"

// Entry is one recorded file operation.
type Entry struct {
	ID         string    `json:"id"`
	Session    string    `json:"session"`
	Time       time.Time `json:"time"`
	Path       string    `json:"path"`
	Target     string    `json:"target,omitempty"`
	Op         string    `json:"op"`
	Mode       string    `json:"mode"`
	Outcome    string    `json:"outcome"`
	Insertions int       `json:"insertions"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Query filters List.
type Query struct {
	// Limit caps the number of entries. Zero means no limit.
	Limit int

	// Path keeps only entries for this file.
	Path string

	// Session keeps only entries whose session id starts with this
	// prefix, so the short ids shown by history work too.
	Session string
}

// Journal records operation results.
//
// Thread Safety: Safe for concurrent use.
type Journal struct {
	db        *badger.DB
	gc        *gcRunner
	retention time.Duration
	session   string
	now       func() time.Time
}

// Open opens the journal described by cfg.
//
// A persistent journal is exclusive to one process; a second Open of the
// same path fails while the first is open.
func Open(cfg Config) (*Journal, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		db:        db,
		retention: cfg.Retention,
		session:   uuid.NewString(),
		now:       time.Now,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		j.gc = startGC(db, cfg.GCInterval, cfg.Logger)
	}
	return j, nil
}

// Session returns the id stamped on entries recorded by this journal.
func (j *Journal) Session() string {
	return j.session
}

// Record stores r. It implements instrument.Recorder.
func (j *Journal) Record(ctx context.Context, r instrument.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := Entry{
		ID:         uuid.NewString(),
		Session:    j.session,
		Time:       j.now().UTC(),
		Path:       absPath(r.Path),
		Target:     r.Target,
		Op:         r.Op.String(),
		Mode:       r.Mode.String(),
		Outcome:    r.Outcome.String(),
		Insertions: r.Insertions,
		Message:    r.Message,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Target != "" {
		e.Target = absPath(r.Target)
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d/%s", entryPrefix, e.Time.UnixNano(), e.ID))
	err = j.db.Update(func(txn *badger.Txn) error {
		be := badger.NewEntry(key, data)
		if j.retention > 0 {
			be = be.WithTTL(j.retention)
		}
		return txn.SetEntry(be)
	})
	if err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}

	slog.Debug("Recorded journal entry",
		slog.String("id", e.ID),
		slog.String("path", e.Path),
		slog.String("outcome", e.Outcome))
	return nil
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	var filterPath string
	if q.Path != "" {
		filterPath = absPath(q.Path)
	}

	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(entryPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append([]byte(entryPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var e Entry
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &e)
			})
			if err != nil {
				return fmt.Errorf("decoding journal entry %s: %w", it.Item().Key(), err)
			}

			if filterPath != "" && e.Path != filterPath {
				continue
			}
			if q.Session != "" && !strings.HasPrefix(e.Session, q.Session) {
				continue
			}
			entries = append(entries, e)
			if q.Limit > 0 && len(entries) >= q.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close stops garbage collection and closes the database.
func (j *Journal) Close() error {
	if j.gc != nil {
		j.gc.stop()
	}
	return j.db.Close()
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
