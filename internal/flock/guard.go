// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package flock

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Acquire opens (creating if necessary) the lock file at the given path and
// blocks until an exclusive advisory lock on it is held, or until the
// context is cancelled.
//
// The returned function releases the lock and closes the file. Lock files
// are left in place after release; they carry no content and deleting them
// while another process holds the lock would defeat the exclusion, so
// nobody removes them.
func Acquire(ctx context.Context, lockPath string) (release func() error, err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	log.Printf("[TRACE] flock: waiting for lock on %s", lockPath)
	if err := LockBlocking(ctx, f); err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to acquire file lock on %q: %w", lockPath, err)
	}
	log.Printf("[TRACE] flock: acquired lock on %s", lockPath)

	return func() error {
		log.Printf("[TRACE] flock: releasing lock on %s", lockPath)
		unlockErr := Unlock(f)

		// Prefer the close error over the unlock error, since on Windows
		// closing the handle is what actually releases the lock.
		if err := f.Close(); err != nil {
			return err
		}
		return unlockErr
	}, nil
}
