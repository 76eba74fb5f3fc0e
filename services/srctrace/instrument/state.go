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
	"io/fs"
	"os"
)

// TraceState is the trace status of a source file.
//
// State is never stored. It is derived from which artifacts exist next to
// the file each time it is needed.
type TraceState int

const (
	// StateUntraced: neither a backup nor a traced copy exists.
	StateUntraced TraceState = iota

	// StateTracedInPlace: a backup exists, so the source holds trace statements.
	StateTracedInPlace

	// StateTracedAsCopy: a traced copy exists next to an unmodified source.
	StateTracedAsCopy
)

// String returns the state name.
func (s TraceState) String() string {
	switch s {
	case StateUntraced:
		return "untraced"
	case StateTracedInPlace:
		return "traced-in-place"
	case StateTracedAsCopy:
		return "traced-as-copy"
	default:
		return "unknown"
	}
}

// FileStatus reports the artifacts found for one source file.
type FileStatus struct {
	Path          string
	State         TraceState
	BackupPath    string
	HasBackup     bool
	TracedPath    string
	HasTracedCopy bool
}

// DetectStatus derives the status of source from the filesystem.
//
// When both artifacts exist the in-place state wins, since the source
// itself is then instrumented.
func DetectStatus(source string, markers Markers) (FileStatus, error) {
	st := FileStatus{
		Path:       source,
		BackupPath: markers.BackupPath(source),
		TracedPath: markers.TracedPath(source),
	}

	var err error
	if st.HasBackup, err = exists(st.BackupPath); err != nil {
		return st, err
	}
	if st.HasTracedCopy, err = exists(st.TracedPath); err != nil {
		return st, err
	}

	switch {
	case st.HasBackup:
		st.State = StateTracedInPlace
	case st.HasTracedCopy:
		st.State = StateTracedAsCopy
	default:
		st.State = StateUntraced
	}
	return st, nil
}

// DetectState is DetectStatus reduced to the state.
func DetectState(source string, markers Markers) (TraceState, error) {
	st, err := DetectStatus(source, markers)
	return st.State, err
}

// exists reports whether path exists. Errors other than "not exist" are returned.
func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
