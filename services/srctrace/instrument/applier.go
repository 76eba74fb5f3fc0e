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
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SplitLines splits content on "\n" only, so "\r" stays attached to its
// line and Join(SplitLines(b)) == b for every input.
func SplitLines(content []byte) []string {
	return strings.Split(string(content), "\n")
}

// Join rejoins lines with "\n".
func Join(lines []string) []byte {
	return []byte(strings.Join(lines, "\n"))
}

// Apply returns lines with every statement of plan inserted after its
// target line. lines is not modified.
//
// Points are consumed from the highest line down, so inserting at one
// point never renumbers a point still pending. A plan that is not in
// descending order is sorted first. Points outside lines are ignored.
func Apply(lines []string, plan EditPlan) []string {
	if !plan.IsDescending() {
		sorted := make(EditPlan, len(plan))
		copy(sorted, plan)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Line > sorted[j].Line })
		plan = sorted
	}

	valid := 0
	for _, pt := range plan {
		if pt.Line >= 0 && pt.Line < len(lines) {
			valid++
		}
	}

	out := make([]string, len(lines)+valid)
	dst := len(out) - 1
	k := 0
	for i := len(lines) - 1; i >= 0; i-- {
		for k < len(plan) && plan[k].Line >= len(lines) {
			k++
		}
		for k < len(plan) && plan[k].Line == i {
			out[dst] = plan[k].Statement
			dst--
			k++
		}
		out[dst] = lines[i]
		dst--
	}
	return out
}

// atomicWriteFile writes content to path via a temp file in the same
// directory and a rename, so readers see either the old or new content.
func atomicWriteFile(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".srctrace-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing content: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing to disk: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// fileMode returns the permission bits of path, or 0644 if it cannot be read.
func fileMode(path string) os.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return 0644
	}
	return info.Mode().Perm()
}
