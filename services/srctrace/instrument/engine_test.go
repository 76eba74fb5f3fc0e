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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/srctrace/services/srctrace/ast"
)

const scenarioSource = "function f(x) { return x + 1; }\nconst y = f(2);\nif (y > 2) { g(); }\n"

var errTestLocked = errors.New("locked for test")

type fakeLocker struct {
	deny     string
	acquired []string
	released []string
}

func (l *fakeLocker) AcquireLock(path, reason string) error {
	if filepath.Base(path) == l.deny {
		return errTestLocked
	}
	l.acquired = append(l.acquired, path)
	return nil
}

func (l *fakeLocker) ReleaseLock(path string) error {
	l.released = append(l.released, path)
	return nil
}

type fakeRecorder struct {
	results []Result
}

func (r *fakeRecorder) Record(_ context.Context, res Result) error {
	r.results = append(r.results, res)
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "%s should not exist", path)
}

func TestEngine_Trace_Scenario(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	writeFile(t, src, scenarioSource)

	e := NewEngine()
	res := e.Trace(context.Background(), src, Options{})

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeTraced, res.Outcome)
	assert.Equal(t, 3, res.Insertions)
	assert.Equal(t, []int{2, 1, 0}, res.Plan.Lines())

	want := fmt.Sprintf("function f(x) { return x + 1; }\n"+
		"console.log('%[1]s:1');\n"+
		"const y = f(2);\n"+
		"console.log('%[1]s:2');\n"+
		"if (y > 2) { g(); }\n"+
		"console.log('%[1]s:3');\n", src)

	assert.Equal(t, want, readFile(t, e.Markers().TracedPath(src)))
	assert.Equal(t, scenarioSource, readFile(t, src), "copy mode leaves the source alone")
	assertMissing(t, e.Markers().BackupPath(src))
}

func TestEngine_Instrument_KeywordTokensAreNotStatements(t *testing.T) {
	tests := []struct {
		name string
		path string
		src  string
		want []int
	}{
		{
			name: "generator expression",
			path: "/p/g.js",
			src:  "const g = function* () {\n  yield 1;\n};\n",
			want: []int{2, 1},
		},
		{
			name: "overloads and ambient module",
			path: "/p/a.ts",
			src: "declare module \"m\" {\n  function x(): void;\n}\n" +
				"function o(a: string): void;\nfunction o(a: any) {}\n",
			want: []int{4},
		},
	}

	e := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := e.Instrument(context.Background(), tt.path, []byte(tt.src), true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, inst.Plan.Lines())
		})
	}

	inst, err := e.Instrument(context.Background(), "/p/a.ts",
		[]byte("function o(a: string): void;\nfunction o(a: any) {}\n"), true)
	require.NoError(t, err)
	assert.Equal(t,
		"function o(a: string): void;\nfunction o(a: any) {}\nconsole.log('/p/a.ts:2');\n",
		string(inst.Output), "an overload stays adjacent to its implementation")
}

func TestEngine_Trace_CopyIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.ts")
	writeFile(t, src, "const a: number = 1;\nfunction g(): void {\n  a;\n}\ng();\n")

	e := NewEngine()
	first := e.Trace(context.Background(), src, Options{})
	require.Equal(t, OutcomeTraced, first.Outcome)
	out1 := readFile(t, e.Markers().TracedPath(src))

	second := e.Trace(context.Background(), src, Options{})
	require.Equal(t, OutcomeTraced, second.Outcome)
	out2 := readFile(t, e.Markers().TracedPath(src))

	assert.Equal(t, out1, out2)
}

func TestEngine_RoundTripInPlace(t *testing.T) {
	sources := map[string]string{
		"plain.js":   scenarioSource,
		"crlf.js":    "a();\r\nb();\r\n",
		"no_eol.js":  "let x = 1;\nx++;",
		"empty.js":   "",
		"types.ts":   "interface A { x: number }\nconst a: A = { x: 1 };\nexport default a;\n",
		"view.tsx":   "export const V = () => (\n  <div>{1}</div>\n);\n",
		"classes.js": "class C {\n  m() {\n    return 1;\n  }\n}\nnew C().m();\n",
	}

	for name, content := range sources {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, name)
			writeFile(t, src, content)

			e := NewEngine()
			traced := e.Trace(context.Background(), src, Options{Mode: ModeInPlace})
			require.Equal(t, OutcomeTraced, traced.Outcome, "%v", traced.Err)
			assert.Equal(t, content, readFile(t, e.Markers().BackupPath(src)))

			state, err := DetectState(src, e.Markers())
			require.NoError(t, err)
			assert.Equal(t, StateTracedInPlace, state)

			untraced := e.Untrace(context.Background(), src, Options{Mode: ModeInPlace})
			require.Equal(t, OutcomeRestored, untraced.Outcome, "%v", untraced.Err)

			assert.Equal(t, content, readFile(t, src))
			assertMissing(t, e.Markers().BackupPath(src))
		})
	}
}

func TestEngine_RetraceInPlaceKeepsFirstBackup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	writeFile(t, src, "a();\n")

	e := NewEngine()
	require.Equal(t, OutcomeTraced, e.Trace(context.Background(), src, Options{Mode: ModeInPlace}).Outcome)
	require.Equal(t, OutcomeTraced, e.Trace(context.Background(), src, Options{Mode: ModeInPlace}).Outcome)

	assert.Equal(t, "a();\n", readFile(t, e.Markers().BackupPath(src)))

	res := e.Untrace(context.Background(), src, Options{Mode: ModeInPlace})
	require.Equal(t, OutcomeRestored, res.Outcome)
	assert.Equal(t, "a();\n", readFile(t, src))
}

func TestEngine_TraceCopyOfInPlaceSourceUsesBackup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	writeFile(t, src, "f();\n")

	e := NewEngine()
	require.Equal(t, OutcomeTraced, e.Trace(context.Background(), src, Options{Mode: ModeInPlace}).Outcome)
	instrumented := readFile(t, src)

	res := e.Trace(context.Background(), src, Options{})
	require.Equal(t, OutcomeTraced, res.Outcome)
	assert.Equal(t, 1, res.Insertions)
	assert.Equal(t, "f();\nconsole.log('"+src+":1');\n", readFile(t, e.Markers().TracedPath(src)))
	assert.Equal(t, instrumented, readFile(t, src), "source untouched")

	res = e.Trace(context.Background(), src, Options{SkipTracedInPlace: true})
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrTracedInPlace))
}

func TestEngine_TraceRefusesStemlessNames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, ".js")
	writeFile(t, src, "a();\n")
	writeFile(t, filepath.Join(dir, "b.js"), "b();\n")

	e := NewEngine()
	res := e.Trace(context.Background(), src, Options{})
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrNoStem))
	assertMissing(t, filepath.Join(dir, ".traced.js"))

	summary, err := e.Run(context.Background(), dir, OpTrace, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Count(OutcomeTraced))
	assert.Equal(t, 1, summary.Count(OutcomeSkipped))
	assertMissing(t, filepath.Join(dir, ".traced.js"))
}

func TestEngine_NoDoubleCounting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	writeFile(t, src, "foo(bar());\n")

	e := NewEngine()
	res := e.Trace(context.Background(), src, Options{})
	require.Equal(t, OutcomeTraced, res.Outcome)
	assert.Equal(t, 1, res.Insertions)

	out := readFile(t, e.Markers().TracedPath(src))
	assert.Equal(t, 1, strings.Count(out, "console.log("))
}

func TestEngine_LineCountMonotonic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	content := "import x from 'x';\n\nconst h = () => {\n  x();\n};\n\ntry {\n  h();\n} catch (e) {\n  throw e;\n}\n"
	writeFile(t, src, content)

	e := NewEngine()
	res := e.Trace(context.Background(), src, Options{})
	require.Equal(t, OutcomeTraced, res.Outcome)
	require.Greater(t, res.Insertions, 0)

	before := len(SplitLines([]byte(content)))
	after := len(SplitLines([]byte(readFile(t, e.Markers().TracedPath(src)))))
	assert.Equal(t, before+res.Insertions, after)

	seen := make(map[int]bool)
	for _, pt := range res.Plan {
		assert.False(t, seen[pt.Line], "line %d planned twice", pt.Line)
		seen[pt.Line] = true
	}
}

func TestEngine_UntraceWithoutBackup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	writeFile(t, src, scenarioSource)

	e := NewEngine()
	summary, err := e.Run(context.Background(), src, OpUntrace, Options{Mode: ModeInPlace})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total())

	res := summary.Results[0]
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrNoBackup))
	assert.Equal(t, "no backup found", res.Message)
	assert.Equal(t, scenarioSource, readFile(t, src))
}

func TestEngine_UntraceCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	writeFile(t, src, scenarioSource)

	e := NewEngine()
	require.Equal(t, OutcomeTraced, e.Trace(context.Background(), src, Options{}).Outcome)

	traced := e.Markers().TracedPath(src)
	res := e.Untrace(context.Background(), traced, Options{})
	assert.Equal(t, OutcomeRemoved, res.Outcome)
	assertMissing(t, traced)
	assert.Equal(t, scenarioSource, readFile(t, src))
}

func TestEngine_UntraceCopy_Preconditions(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine()

	plain := filepath.Join(dir, "a.js")
	writeFile(t, plain, "a();\n")
	res := e.Untrace(context.Background(), plain, Options{})
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrNotTracedCopy))
	assert.Contains(t, res.Message, "a.traced.js")
	assert.Equal(t, "a();\n", readFile(t, plain))

	orphan := filepath.Join(dir, "gone.traced.js")
	writeFile(t, orphan, "x();\n")
	res = e.Untrace(context.Background(), orphan, Options{})
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrOriginalMissing))
	assert.Equal(t, "x();\n", readFile(t, orphan))
}

func TestEngine_DryRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	writeFile(t, src, scenarioSource)

	e := NewEngine()
	res := e.Trace(context.Background(), src, Options{Mode: ModeInPlace, DryRun: true})

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePlanned, res.Outcome)
	assert.Equal(t, 3, res.Insertions)
	assert.False(t, res.Changed())
	assert.Contains(t, res.Diff, "+console.log('"+src+":2');")
	assert.Contains(t, res.Diff, " const y = f(2);")

	assert.Equal(t, scenarioSource, readFile(t, src))
	assertMissing(t, e.Markers().BackupPath(src))
	assertMissing(t, e.Markers().TracedPath(src))
}

func TestEngine_StrictSyntaxErrors(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.js")
	writeFile(t, src, "const x = ;\nfoo();\n")

	e := NewEngine()

	res := e.Trace(context.Background(), src, Options{Strict: true})
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, ast.ErrSyntax))
	assertMissing(t, e.Markers().TracedPath(src))

	res = e.Trace(context.Background(), src, Options{})
	assert.Equal(t, OutcomeTraced, res.Outcome)
	_, err := os.Stat(e.Markers().TracedPath(src))
	assert.NoError(t, err)
}

func TestEngine_ArtifactGuard(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine()

	for _, name := range []string{"a.traced.js", "a.untraced.js"} {
		p := filepath.Join(dir, name)
		writeFile(t, p, "a();\n")

		res := e.Trace(context.Background(), p, Options{})
		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.True(t, errors.Is(res.Err, ErrArtifact))
	}
	assertMissing(t, filepath.Join(dir, "a.traced.traced.js"))
}

func TestEngine_UnsupportedFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.md")
	writeFile(t, p, "# hi\n")

	res := NewEngine().Trace(context.Background(), p, Options{})
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, ast.IsUnsupportedGrammar(res.Err))

	_, err := NewEngine().Instrument(context.Background(), p, []byte("# hi\n"), false)
	assert.True(t, ast.IsUnsupportedGrammar(err))
}

func TestEngine_PreservesFileMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.js")
	require.NoError(t, os.WriteFile(src, []byte("a();\n"), 0600))

	e := NewEngine()
	require.Equal(t, OutcomeTraced, e.Trace(context.Background(), src, Options{}).Outcome)

	info, err := os.Stat(e.Markers().TracedPath(src))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEngine_Run_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "a();\n")
	writeFile(t, filepath.Join(dir, "b", "c.ts"), "c();\n")
	writeFile(t, filepath.Join(dir, "b", "d.tsx"), "d();\n")
	writeFile(t, filepath.Join(dir, "node_modules", "x.js"), "x();\n")
	writeFile(t, filepath.Join(dir, ".git", "y.js"), "y();\n")
	writeFile(t, filepath.Join(dir, "notes.md"), "# notes\n")

	locker := &fakeLocker{deny: "c.ts"}
	recorder := &fakeRecorder{}
	var handled []Result
	e := NewEngine(
		WithLocker(locker),
		WithRecorder(recorder),
		WithResultHandler(func(r Result) { handled = append(handled, r) }),
	)

	summary, err := e.Run(context.Background(), dir, OpTrace, Options{})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Total())

	assert.Equal(t, filepath.Join(dir, "a.js"), summary.Results[0].Path)
	assert.Equal(t, filepath.Join(dir, "b", "c.ts"), summary.Results[1].Path)
	assert.Equal(t, filepath.Join(dir, "b", "d.tsx"), summary.Results[2].Path)

	assert.Equal(t, OutcomeFailed, summary.Results[1].Outcome)
	assert.True(t, errors.Is(summary.Results[1].Err, errTestLocked))
	assert.Equal(t, 2, summary.Count(OutcomeTraced), "failure must not stop siblings")
	assert.Equal(t, 2, summary.Insertions())

	assertMissing(t, filepath.Join(dir, "node_modules", "x.traced.js"))
	assertMissing(t, filepath.Join(dir, ".git", "y.traced.js"))

	assert.Len(t, handled, 3)
	assert.Len(t, recorder.results, 3, "changes and failures are recorded")
	assert.Equal(t, locker.acquired, locker.released)

	// Copy-mode untrace of the directory visits only the traced copies.
	summary, err = e.Run(context.Background(), dir, OpUntrace, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count(OutcomeRemoved))
	assertMissing(t, filepath.Join(dir, "a.traced.js"))
	assertMissing(t, filepath.Join(dir, "b", "d.traced.tsx"))
}

func TestEngine_Run_DirectoryInPlaceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.js":             scenarioSource,
		"lib/util.ts":      "export function u(): number {\n  return 1;\n}\n",
		"lib/untouched.js": "",
	}
	for name, content := range files {
		writeFile(t, filepath.Join(dir, name), content)
	}

	e := NewEngine()
	summary, err := e.Run(context.Background(), dir, OpTrace, Options{Mode: ModeInPlace})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count(OutcomeTraced))

	summary, err = e.Run(context.Background(), dir, OpUntrace, Options{Mode: ModeInPlace})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count(OutcomeRestored))

	for name, content := range files {
		p := filepath.Join(dir, name)
		assert.Equal(t, content, readFile(t, p), name)
		assertMissing(t, e.Markers().BackupPath(p))
	}
}

func TestEngine_Run_Errors(t *testing.T) {
	e := NewEngine()

	_, err := e.Run(context.Background(), filepath.Join(t.TempDir(), "missing"), OpTrace, Options{})
	assert.True(t, errors.Is(err, ErrPathNotFound))

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "a();\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, dir, OpTrace, Options{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_StatusTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "a();\n")
	writeFile(t, filepath.Join(dir, "b.js"), "b();\n")
	writeFile(t, filepath.Join(dir, "c.js"), "c();\n")

	e := NewEngine()
	require.Equal(t, OutcomeTraced, e.Trace(context.Background(), filepath.Join(dir, "b.js"), Options{}).Outcome)
	require.Equal(t, OutcomeTraced, e.Trace(context.Background(), filepath.Join(dir, "c.js"), Options{Mode: ModeInPlace}).Outcome)

	statuses, failures, err := e.StatusTree(dir)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Empty(t, failures)

	assert.Equal(t, StateUntraced, statuses[0].State)
	assert.Equal(t, StateTracedAsCopy, statuses[1].State)
	assert.Equal(t, StateTracedInPlace, statuses[2].State)

	_, _, err = e.StatusTree(filepath.Join(dir, "nope"))
	assert.True(t, errors.Is(err, ErrPathNotFound))
}

func TestEngine_StatusTree_ReportsUninspectableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "a();\n")

	// The backup name of this source exceeds the file name limit, so its
	// artifacts cannot be checked.
	long := filepath.Join(dir, strings.Repeat("x", 250)+".js")
	writeFile(t, long, "x();\n")

	statuses, failures, err := NewEngine().StatusTree(dir)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, filepath.Join(dir, "a.js"), statuses[0].Path)

	require.Len(t, failures, 1)
	assert.Equal(t, long, failures[0].Path)
	assert.Equal(t, OutcomeFailed, failures[0].Outcome)
	assert.Error(t, failures[0].Err)
}

func TestPreviewDiff(t *testing.T) {
	lines := []string{"a();", "b();", ""}
	plan := EditPlan{
		{Line: 1, Statement: "t(2);"},
		{Line: 0, Statement: "t(1);"},
	}

	out, err := PreviewDiff("a.js", "a.traced.js", lines, plan)
	require.NoError(t, err)
	assert.Contains(t, out, "--- a.js")
	assert.Contains(t, out, "+++ a.traced.js")
	assert.Contains(t, out, "+t(1);")
	assert.Contains(t, out, "+t(2);")
	assert.Less(t, strings.Index(out, "+t(1);"), strings.Index(out, "+t(2);"), "hunks in file order")

	out, err = PreviewDiff("a.js", "a.traced.js", lines, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
