// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrinter(mode Mode) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewPrinter(&out, &errOut, mode), &out, &errOut
}

// =============================================================================
// Mode Tests
// =============================================================================

func TestParseMode(t *testing.T) {
	tests := []struct {
		in     string
		want   Mode
		wantOK bool
		err    bool
	}{
		{"", "", false, false},
		{"styled", ModeStyled, true, false},
		{"PLAIN", ModePlain, true, false},
		{"machine", ModeMachine, true, false},
		{"quiet", ModeMachine, true, false},
		{"fancy", "", false, true},
	}

	for _, tt := range tests {
		got, ok, err := ParseMode(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
	}
}

func TestDetectMode(t *testing.T) {
	t.Setenv(EnvOutput, "")
	var buf bytes.Buffer
	assert.Equal(t, ModePlain, DetectMode(&buf), "non-terminal writers get plain output")
	assert.False(t, IsTerminal(&buf))

	t.Setenv(EnvOutput, "machine")
	assert.Equal(t, ModeMachine, DetectMode(&buf))

	t.Setenv(EnvOutput, "bogus")
	assert.Equal(t, ModePlain, DetectMode(&buf))
}

func TestNewPrinter_DetectsMode(t *testing.T) {
	t.Setenv(EnvOutput, "")
	p, _, _ := newTestPrinter("")
	assert.Equal(t, ModePlain, p.Mode())
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_FileLine(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)
	p.FileLine(IconSuccess, "traced", "src/a.js", "inserted 3 statements")
	p.FileLine(IconPending, "untraced", "src/b.js", "")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "✓ traced    src/a.js (inserted 3 statements)", lines[0])
	assert.Equal(t, "○ untraced  src/b.js", lines[1])
}

func TestPrinter_FileLine_Machine(t *testing.T) {
	p, out, _ := newTestPrinter(ModeMachine)
	p.FileLine(IconError, "failed", "a.js", "parse failed")

	assert.Equal(t, "failed\ta.js\tparse failed\n", out.String())
}

func TestPrinter_WarningAndErrorGoToErrWriter(t *testing.T) {
	for _, mode := range []Mode{ModeStyled, ModePlain, ModeMachine} {
		t.Run(string(mode), func(t *testing.T) {
			p, out, errOut := newTestPrinter(mode)
			p.Warning("careful")
			p.Error("broken")

			assert.Empty(t, out.String())
			assert.Contains(t, errOut.String(), "careful")
			assert.Contains(t, errOut.String(), "broken")
		})
	}

	p, _, errOut := newTestPrinter(ModeMachine)
	p.Warning("w")
	p.Error("e")
	assert.Equal(t, "WARN: w\nERROR: e\n", errOut.String())
}

func TestPrinter_TitleSkippedInMachineMode(t *testing.T) {
	p, out, _ := newTestPrinter(ModeMachine)
	p.Title("Status")
	assert.Empty(t, out.String())

	p, out, _ = newTestPrinter(ModePlain)
	p.Title("Status")
	assert.Equal(t, "Status\n", out.String())
}

func TestPrinter_InfoAndSuccess(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)
	p.Info("watching src")
	p.Success("done")
	assert.Equal(t, "│ watching src\n✓ done\n", out.String())

	p, out, _ = newTestPrinter(ModeMachine)
	p.Info("watching src")
	p.Success("done")
	assert.Equal(t, "watching src\nOK: done\n", out.String())
}

func TestPrinter_Summary(t *testing.T) {
	counts := []Count{
		{Label: "traced", N: 2, Icon: IconSuccess},
		{Label: "skipped", N: 0, Icon: IconWarning},
		{Label: "failed", N: 1, Icon: IconError},
	}

	p, out, _ := newTestPrinter(ModePlain)
	p.Summary(counts...)
	assert.Equal(t, "\n2 traced  1 failed\n", out.String())

	p, out, _ = newTestPrinter(ModeMachine)
	p.Summary(counts...)
	assert.Equal(t, "SUMMARY: traced=2 skipped=0 failed=1\n", out.String())

	p, out, _ = newTestPrinter(ModePlain)
	p.Summary(Count{Label: "traced"})
	assert.Contains(t, out.String(), "nothing to do")
}

func TestPrinter_Diff(t *testing.T) {
	diff := "--- a.js\n+++ a.traced.js\n@@ -1,1 +1,2 @@\n a();\n+console.log('a.js:1');\n"

	p, out, _ := newTestPrinter(ModeMachine)
	p.Diff(diff)
	assert.Equal(t, diff, out.String())

	p, out, _ = newTestPrinter(ModeStyled)
	p.Diff(diff)
	assert.Equal(t, diff, out.String(), "colors are dropped when the writer is not a terminal")

	p, out, _ = newTestPrinter(ModePlain)
	p.Diff("")
	assert.Empty(t, out.String())
}

func TestPrinter_Table(t *testing.T) {
	p, out, _ := newTestPrinter(ModePlain)
	p.Table([]string{"STATE", "PATH"}, [][]string{
		{"traced-copy", "a.js"},
		{"untraced", "lib/b.ts"},
	})

	assert.Equal(t,
		"STATE        PATH\n"+
			"traced-copy  a.js\n"+
			"untraced     lib/b.ts\n",
		out.String())

	p, out, _ = newTestPrinter(ModeMachine)
	p.Table([]string{"STATE", "PATH"}, [][]string{{"untraced", "a.js"}})
	assert.Equal(t, "untraced\ta.js\n", out.String())
}

func TestPrinter_Box(t *testing.T) {
	p, out, _ := newTestPrinter(ModeMachine)
	p.Box("Watching", "src")
	assert.Equal(t, "Watching: src\n", out.String())

	p, out, _ = newTestPrinter(ModePlain)
	p.Box("Watching", "src")
	assert.Contains(t, out.String(), "Watching")
	assert.Contains(t, out.String(), "╭")
}
