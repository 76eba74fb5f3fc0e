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
	"fmt"
	"path/filepath"
	"strings"
)

// PathStyle selects how a file path is embedded in trace statements.
type PathStyle string

const (
	// PathAbsolute embeds the absolute path of the source file.
	PathAbsolute PathStyle = "absolute"

	// PathRelative embeds the slash-separated path relative to Root.
	PathRelative PathStyle = "relative"
)

// DefaultCallee is the function the inserted statements call.
const DefaultCallee = "console.log"

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
)

// StatementFormatter builds the trace statement inserted after a line.
//
// The format is fixed and greppable: <callee>('<path>:<line>');
type StatementFormatter struct {
	// Callee is the function to call. Default: console.log.
	Callee string

	// Style selects absolute or root-relative paths. Default: absolute.
	Style PathStyle

	// Root is the directory relative paths are computed from.
	// Empty means the working directory.
	Root string
}

// DefaultStatementFormatter returns a console.log formatter with absolute paths.
func DefaultStatementFormatter() StatementFormatter {
	return StatementFormatter{
		Callee: DefaultCallee,
		Style:  PathAbsolute,
	}
}

// Format returns the statement for the 1-based line of path.
func (f StatementFormatter) Format(path string, line int) string {
	callee := f.Callee
	if callee == "" {
		callee = DefaultCallee
	}
	return fmt.Sprintf("%s('%s:%d');", callee, literalEscaper.Replace(f.DisplayPath(path)), line)
}

// DisplayPath returns path as it appears inside trace statements.
//
// Relative paths that cannot be computed, or that would escape Root,
// fall back to the absolute path.
func (f StatementFormatter) DisplayPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	if f.Style != PathRelative {
		return abs
	}

	root := f.Root
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return abs
	}

	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	return filepath.ToSlash(rel)
}
