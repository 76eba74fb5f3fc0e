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

import "errors"

// Sentinel errors for engine operations.
//
// Batch entry points only return ErrPathNotFound and ErrInvalidPath;
// everything else is attached to the per-file Result.
var (
	// ErrPathNotFound indicates the target path does not exist.
	ErrPathNotFound = errors.New("path does not exist")

	// ErrInvalidPath indicates a target that is neither a file nor a directory.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNoBackup indicates an in-place untrace without a backup file.
	ErrNoBackup = errors.New("no backup found")

	// ErrNotTracedCopy indicates a copy-mode untrace of a file whose name
	// does not carry the traced marker.
	ErrNotTracedCopy = errors.New("not a traced copy")

	// ErrOriginalMissing indicates a traced copy whose original is gone.
	ErrOriginalMissing = errors.New("original file not found")

	// ErrArtifact indicates an attempt to trace a traced copy or a backup.
	ErrArtifact = errors.New("file is a trace artifact")

	// ErrTracedInPlace indicates a copy-mode trace of a source that is
	// currently instrumented in place.
	ErrTracedInPlace = errors.New("source is traced in place")

	// ErrNoStem indicates a source named only by its extension, e.g. ".js".
	ErrNoStem = errors.New("file name has no stem")

	// ErrInvalidMarkers indicates an unusable marker configuration.
	ErrInvalidMarkers = errors.New("invalid markers")
)
