// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/srctrace/services/srctrace/instrument"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	j.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return j
}

func TestJournal_RecordAndList(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, instrument.Result{
		Path:       "a.js",
		Target:     "a.traced.js",
		Op:         instrument.OpTrace,
		Mode:       instrument.ModeCopy,
		Outcome:    instrument.OutcomeTraced,
		Insertions: 3,
		Duration:   1500 * time.Millisecond,
	}))
	require.NoError(t, j.Record(ctx, instrument.Result{
		Path:    "b.js",
		Op:      instrument.OpUntrace,
		Mode:    instrument.ModeInPlace,
		Outcome: instrument.OutcomeFailed,
		Err:     errors.New("disk full"),
	}))

	entries, err := j.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	newest, oldest := entries[0], entries[1]
	assert.Equal(t, "untrace", newest.Op)
	assert.Equal(t, "in-place", newest.Mode)
	assert.Equal(t, "failed", newest.Outcome)
	assert.Equal(t, "disk full", newest.Error)
	assert.True(t, newest.Time.After(oldest.Time))

	absA, _ := filepath.Abs("a.js")
	assert.Equal(t, absA, oldest.Path)
	assert.Equal(t, 3, oldest.Insertions)
	assert.Equal(t, int64(1500), oldest.DurationMS)
	assert.Equal(t, j.Session(), oldest.Session)
	assert.NotEmpty(t, oldest.ID)
	assert.NotEqual(t, oldest.ID, newest.ID)
}

func TestJournal_ListQuery(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for _, p := range []string{"a.js", "b.js", "a.js", "c.js"} {
		require.NoError(t, j.Record(ctx, instrument.Result{Path: p, Outcome: instrument.OutcomeTraced}))
	}

	limited, err := j.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "c.js", filepath.Base(limited[0].Path))
	assert.Equal(t, "a.js", filepath.Base(limited[1].Path))

	onlyA, err := j.List(ctx, Query{Path: "a.js"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)
}

func TestJournal_Empty(t *testing.T) {
	j := openTestJournal(t)

	entries, err := j.List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_CanceledContext(t *testing.T) {
	j := openTestJournal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := j.Record(ctx, instrument.Result{Path: "a.js"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestJournal_Persistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	cfg := Config{Path: dir, SyncWrites: true, Retention: time.Hour}

	j, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), instrument.Result{Path: "a.js", Outcome: instrument.OutcomeTraced}))
	require.NoError(t, j.Close())

	j, err = Open(cfg)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJournal_ListBySession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	cfg := Config{Path: dir}
	ctx := context.Background()

	first, err := Open(cfg)
	require.NoError(t, err)
	firstSession := first.Session()
	require.NoError(t, first.Record(ctx, instrument.Result{Path: "a.js", Outcome: instrument.OutcomeTraced}))
	require.NoError(t, first.Close())

	second, err := Open(cfg)
	require.NoError(t, err)
	defer second.Close()
	require.NotEqual(t, firstSession, second.Session())
	require.NoError(t, second.Record(ctx, instrument.Result{Path: "b.js", Outcome: instrument.OutcomeTraced}))
	require.NoError(t, second.Record(ctx, instrument.Result{Path: "c.js", Outcome: instrument.OutcomeTraced}))

	entries, err := second.List(ctx, Query{Session: firstSession})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.js", filepath.Base(entries[0].Path))

	entries, err = second.List(ctx, Query{Session: firstSession[:8]})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "short session ids match as prefixes")

	entries, err = second.List(ctx, Query{Session: second.Session()})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	all, err := second.List(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
