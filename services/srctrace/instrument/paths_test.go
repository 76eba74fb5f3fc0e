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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkers_Paths(t *testing.T) {
	m := DefaultMarkers()
	dir := filepath.Join("src", "lib")

	tests := []struct {
		source string
		traced string
		backup string
	}{
		{filepath.Join(dir, "app.js"), filepath.Join(dir, "app.traced.js"), filepath.Join(dir, "app.untraced.js")},
		{"a.b.ts", "a.b.traced.ts", "a.b.untraced.ts"},
		{"view.tsx", "view.traced.tsx", "view.untraced.tsx"},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.traced, m.TracedPath(tt.source))
			assert.Equal(t, tt.backup, m.BackupPath(tt.source))

			orig, ok := m.OriginalFromTraced(tt.traced)
			require.True(t, ok)
			assert.Equal(t, tt.source, orig)

			orig, ok = m.OriginalFromBackup(tt.backup)
			require.True(t, ok)
			assert.Equal(t, tt.source, orig)
		})
	}
}

func TestMarkers_WholeSegmentMatch(t *testing.T) {
	m := DefaultMarkers()

	assert.True(t, m.IsTracedCopy("a.traced.js"))
	assert.False(t, m.IsTracedCopy("a.untraced.js"), "untraced must not match traced")
	assert.True(t, m.IsBackup("a.untraced.js"))
	assert.False(t, m.IsBackup("a.traced.js"))

	assert.False(t, m.IsTracedCopy("retraced.js"))
	assert.False(t, m.IsTracedCopy("a.js"))
	assert.False(t, m.IsTracedCopy(".traced.js"), "marker alone is not a traced copy")

	assert.True(t, m.IsArtifact("x/a.traced.ts"))
	assert.True(t, m.IsArtifact("x/a.untraced.ts"))
	assert.False(t, m.IsArtifact("x/a.ts"))
}

func TestMarkers_Validate(t *testing.T) {
	assert.NoError(t, DefaultMarkers().Validate())
	assert.NoError(t, Markers{Traced: "dbg", Backup: "orig"}.Validate())

	bad := []Markers{
		{Traced: "", Backup: "orig"},
		{Traced: "dbg", Backup: ""},
		{Traced: "a.b", Backup: "orig"},
		{Traced: "dbg", Backup: "x/y"},
		{Traced: "same", Backup: "same"},
	}
	for _, m := range bad {
		err := m.Validate()
		assert.Error(t, err, "%+v", m)
		assert.True(t, errors.Is(err, ErrInvalidMarkers))
	}
}

func TestDetectStatus(t *testing.T) {
	dir := t.TempDir()
	m := DefaultMarkers()
	src := filepath.Join(dir, "a.js")
	require.NoError(t, os.WriteFile(src, []byte("a();\n"), 0644))

	st, err := DetectStatus(src, m)
	require.NoError(t, err)
	assert.Equal(t, StateUntraced, st.State)
	assert.False(t, st.HasBackup)
	assert.False(t, st.HasTracedCopy)

	require.NoError(t, os.WriteFile(m.TracedPath(src), []byte("x"), 0644))
	state, err := DetectState(src, m)
	require.NoError(t, err)
	assert.Equal(t, StateTracedAsCopy, state)

	require.NoError(t, os.WriteFile(m.BackupPath(src), []byte("x"), 0644))
	st, err = DetectStatus(src, m)
	require.NoError(t, err)
	assert.Equal(t, StateTracedInPlace, st.State, "backup wins")
	assert.True(t, st.HasBackup)
	assert.True(t, st.HasTracedCopy)
	assert.Equal(t, "traced-in-place", st.State.String())
}

func TestStatementFormatter(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "pkg", "a.js")

	f := DefaultStatementFormatter()
	assert.Equal(t, "console.log('"+src+":3');", f.Format(src, 3))

	rel := StatementFormatter{Callee: "trace", Style: PathRelative, Root: dir}
	assert.Equal(t, "trace('pkg/a.js:1');", rel.Format(src, 1))

	outside := StatementFormatter{Style: PathRelative, Root: filepath.Join(dir, "pkg", "sub")}
	assert.Equal(t, src, outside.DisplayPath(src), "escaping root falls back to absolute")

	empty := StatementFormatter{}
	assert.Equal(t, "console.log('"+src+":2');", empty.Format(src, 2))
}

func TestStatementFormatter_Escapes(t *testing.T) {
	f := StatementFormatter{Style: PathRelative, Root: "/base"}
	assert.Equal(t, `console.log('it\'s.js:1');`, f.Format("/base/it's.js", 1))
}
