// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides advisory per-file locks shared between srctrace
// processes, so a watcher and a manual run never rewrite the same source
// at the same time.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LockInfo is the metadata a holder writes into its lock file.
type LockInfo struct {
	FilePath  string    `json:"file_path"`
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id"`
	LockedAt  time.Time `json:"locked_at"`
	Reason    string    `json:"reason"`
}

// ManagerConfig configures a FileLockManager.
type ManagerConfig struct {
	// LockDir holds the lock files. Created if missing.
	LockDir string

	// SessionID identifies this process in lock info. Generated if empty.
	SessionID string
}

// DefaultManagerConfig returns a config using $TMPDIR/srctrace-locks and
// a fresh session id.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		LockDir:   filepath.Join(os.TempDir(), "srctrace-locks"),
		SessionID: uuid.NewString(),
	}
}

type lockEntry struct {
	file     *os.File
	path     string
	lockPath string
	info     *LockInfo
}

// FileLockManager hands out exclusive advisory locks keyed by source path.
//
// # Description
//
// Each source path maps to a lock file in LockDir named by a hash of the
// absolute path. The lock is taken on that file with a non-blocking
// platform lock, and the holder's LockInfo is written into it as JSON.
// Lock files are truncated, not removed, on release; removing them would
// let two processes lock different inodes for the same path.
//
// # Thread Safety
//
// All public methods are safe for concurrent use from multiple goroutines.
type FileLockManager struct {
	lockDir   string
	sessionID string
	locker    FileLocker
	locks     map[string]*lockEntry
	mu        sync.Mutex
}

// NewFileLockManager creates a manager and its lock directory.
//
// # Example
//
//	config := lock.DefaultManagerConfig()
//	manager, err := lock.NewFileLockManager(config)
//	if err != nil {
//	    return err
//	}
//	defer manager.Close()
func NewFileLockManager(config ManagerConfig) (*FileLockManager, error) {
	if config.LockDir == "" {
		config.LockDir = DefaultManagerConfig().LockDir
	}
	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}

	if err := os.MkdirAll(config.LockDir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", config.LockDir, err)
	}

	return &FileLockManager{
		lockDir:   config.LockDir,
		sessionID: config.SessionID,
		locker:    newFileLocker(),
		locks:     make(map[string]*lockEntry),
	}, nil
}

// SessionID returns the id written into this manager's lock files.
func (m *FileLockManager) SessionID() string {
	return m.sessionID
}

// AcquireLock acquires an exclusive lock on filePath.
//
// # Description
//
// Non-blocking: returns a *FileLockError wrapping ErrFileLocked when
// another holder has the lock. Acquiring a lock this manager already
// holds only updates the reason.
//
// # Inputs
//
//   - filePath: Path of the source file. Need not exist.
//   - reason: Human-readable reason, shown to conflicting holders.
//
// # Example
//
//	if err := manager.AcquireLock("src/app.js", "trace"); err != nil {
//	    if errors.Is(err, lock.ErrFileLocked) {
//	        // someone else is rewriting this file
//	    }
//	    return err
//	}
//	defer manager.ReleaseLock("src/app.js")
func (m *FileLockManager) AcquireLock(filePath, reason string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.locks[absPath]; ok {
		entry.info.Reason = reason
		return nil
	}

	if err := os.MkdirAll(m.lockDir, 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	lockPath := m.lockPath(absPath)
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}

	if err := m.locker.Lock(f); err != nil {
		defer f.Close()
		if errors.Is(err, ErrFileLocked) {
			return &FileLockError{
				Path:   absPath,
				Holder: readLockInfo(f),
				Err:    ErrFileLocked,
			}
		}
		return fmt.Errorf("acquiring lock on %s: %w", absPath, err)
	}

	info := &LockInfo{
		FilePath:  absPath,
		PID:       os.Getpid(),
		SessionID: m.sessionID,
		LockedAt:  time.Now(),
		Reason:    reason,
	}
	if err := writeLockInfo(f, info); err != nil {
		m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("writing lock info: %w", err)
	}

	m.locks[absPath] = &lockEntry{
		file:     f,
		path:     absPath,
		lockPath: lockPath,
		info:     info,
	}

	slog.Debug("Acquired lock",
		"path", absPath,
		"reason", reason,
		"lock_file", lockPath)

	return nil
}

// ReleaseLock releases a lock acquired by this manager.
//
// # Outputs
//
//   - error: nil on success, ErrLockNotHeld if this manager does not hold it.
func (m *FileLockManager) ReleaseLock(filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[absPath]
	if !ok {
		return ErrLockNotHeld
	}
	return m.releaseLockEntry(entry)
}

// releaseLockEntry must be called with mu held.
func (m *FileLockManager) releaseLockEntry(entry *lockEntry) error {
	delete(m.locks, entry.path)

	if err := entry.file.Truncate(0); err != nil {
		slog.Warn("Failed to clear lock info",
			"path", entry.lockPath,
			"error", err)
	}

	unlockErr := m.locker.Unlock(entry.file)
	closeErr := entry.file.Close()

	slog.Debug("Released lock", "path", entry.path)

	if unlockErr != nil {
		return fmt.Errorf("unlocking %s: %w", entry.path, unlockErr)
	}
	return closeErr
}

// ReleaseAll releases every lock held by this manager and returns the
// first error encountered.
func (m *FileLockManager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, entry := range m.locks {
		if err := m.releaseLockEntry(entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsLocked reports whether filePath is locked by anyone, including this
// manager, and returns the holder's info when it can be read.
func (m *FileLockManager) IsLocked(filePath string) (bool, *LockInfo, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return false, nil, fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	if entry, ok := m.locks[absPath]; ok {
		info := *entry.info
		m.mu.Unlock()
		return true, &info, nil
	}
	m.mu.Unlock()

	f, err := os.OpenFile(m.lockPath(absPath), os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	defer f.Close()

	if err := m.locker.Lock(f); err != nil {
		if errors.Is(err, ErrFileLocked) {
			return true, readLockInfo(f), nil
		}
		return false, nil, err
	}
	return false, nil, m.locker.Unlock(f)
}

// Held returns the absolute paths locked by this manager, sorted.
func (m *FileLockManager) Held() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make([]string, 0, len(m.locks))
	for p := range m.locks {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close releases all locks.
func (m *FileLockManager) Close() error {
	return m.ReleaseAll()
}

// lockPath names the lock file with SHA256[:16] of the absolute path.
func (m *FileLockManager) lockPath(absPath string) string {
	hash := sha256.Sum256([]byte(absPath))
	return filepath.Join(m.lockDir, hex.EncodeToString(hash[:])[:16]+".lock")
}

func writeLockInfo(f *os.File, info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// readLockInfo returns nil when the file is empty or unreadable.
func readLockInfo(f *os.File) *LockInfo {
	data, err := io.ReadAll(io.NewSectionReader(f, 0, 1<<20))
	if err != nil || len(data) == 0 {
		return nil
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}
