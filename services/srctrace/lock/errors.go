// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"errors"
	"fmt"
)

// Sentinel errors for lock operations.
var (
	// ErrFileLocked indicates the file is already locked by another holder.
	ErrFileLocked = errors.New("file is locked by another process")

	// ErrLockNotHeld indicates an attempt to release a lock this manager does not hold.
	ErrLockNotHeld = errors.New("lock not held by this process")
)

// FileLockError describes a lock conflict.
//
// # Description
//
// Wraps ErrFileLocked with whatever the current holder wrote into the
// lock file. Holder is nil when the info could not be read.
type FileLockError struct {
	Path   string
	Holder *LockInfo
	Err    error
}

// Error returns a human-readable error message.
func (e *FileLockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("file %s is locked by PID %d (session %s, %s) since %s: %v",
			e.Path, e.Holder.PID, e.Holder.SessionID, e.Holder.Reason,
			e.Holder.LockedAt.Format("15:04:05"), e.Err)
	}
	return fmt.Sprintf("file %s is locked: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *FileLockError) Unwrap() error {
	return e.Err
}
