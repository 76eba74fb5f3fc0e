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

const (
	// DefaultTracedMarker names traced copies: app.js -> app.traced.js.
	DefaultTracedMarker = "traced"

	// DefaultBackupMarker names in-place backups: app.js -> app.untraced.js.
	DefaultBackupMarker = "untraced"
)

// Markers holds the filename segments that identify trace artifacts.
//
// A marker is inserted as its own dot-separated segment directly before
// the extension. Because the segment is matched whole, "traced" and
// "untraced" never match each other.
type Markers struct {
	Traced string
	Backup string
}

// DefaultMarkers returns the traced/untraced marker pair.
func DefaultMarkers() Markers {
	return Markers{
		Traced: DefaultTracedMarker,
		Backup: DefaultBackupMarker,
	}
}

// Validate checks that both markers are usable and distinct.
func (m Markers) Validate() error {
	for name, marker := range map[string]string{"traced": m.Traced, "backup": m.Backup} {
		if marker == "" {
			return fmt.Errorf("%w: %s marker is empty", ErrInvalidMarkers, name)
		}
		if strings.ContainsAny(marker, `./\`) {
			return fmt.Errorf("%w: %s marker %q must not contain '.', '/' or '\\'", ErrInvalidMarkers, name, marker)
		}
	}
	if m.Traced == m.Backup {
		return fmt.Errorf("%w: traced and backup markers are both %q", ErrInvalidMarkers, m.Traced)
	}
	return nil
}

// TracedPath returns the copy-mode output path for source.
func (m Markers) TracedPath(source string) string {
	return withMarker(source, m.Traced)
}

// BackupPath returns the in-place backup path for source.
func (m Markers) BackupPath(source string) string {
	return withMarker(source, m.Backup)
}

// OriginalFromTraced strips the traced marker. ok is false when the name
// does not carry it.
func (m Markers) OriginalFromTraced(traced string) (string, bool) {
	return stripMarker(traced, m.Traced)
}

// OriginalFromBackup strips the backup marker. ok is false when the name
// does not carry it.
func (m Markers) OriginalFromBackup(backup string) (string, bool) {
	return stripMarker(backup, m.Backup)
}

// IsTracedCopy reports whether path carries the traced marker.
func (m Markers) IsTracedCopy(path string) bool {
	_, ok := m.OriginalFromTraced(path)
	return ok
}

// IsBackup reports whether path carries the backup marker.
func (m Markers) IsBackup(path string) bool {
	_, ok := m.OriginalFromBackup(path)
	return ok
}

// IsArtifact reports whether path is a traced copy or a backup.
func (m Markers) IsArtifact(path string) bool {
	return m.IsTracedCopy(path) || m.IsBackup(path)
}

func splitName(path string) (dir, stem, ext string) {
	dir, base := filepath.Split(path)
	ext = filepath.Ext(base)
	stem = strings.TrimSuffix(base, ext)
	return dir, stem, ext
}

// hasStem reports whether the file name has something before its
// extension. A marker cannot be stripped back off ".traced.js".
func hasStem(path string) bool {
	_, stem, _ := splitName(path)
	return stem != ""
}

func withMarker(path, marker string) string {
	dir, stem, ext := splitName(path)
	return dir + stem + "." + marker + ext
}

func stripMarker(path, marker string) (string, bool) {
	dir, stem, ext := splitName(path)
	suffix := "." + marker
	if !strings.HasSuffix(stem, suffix) || len(stem) == len(suffix) {
		return "", false
	}
	return dir + strings.TrimSuffix(stem, suffix) + ext, true
}
