// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package flock

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestLockUnlock(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "test.lock")

	f, err := os.Create(lockFile)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	defer f.Close()

	if err := Lock(f); err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	if err := Unlock(f); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
}

func TestLockBlocking(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "blocking.lock")

	f, err := os.Create(lockFile)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	defer f.Close()

	if err := LockBlocking(context.Background(), f); err != nil {
		t.Fatalf("failed to acquire blocking lock: %v", err)
	}
	if err := Unlock(f); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
}

func TestLockBlocking_eventualSuccess(t *testing.T) {
	// A second handle on the same file eventually acquires the lock once
	// the first holder releases it. On POSIX systems fcntl locks are
	// process-scoped so two handles in one process never actually contend,
	// which makes this mostly a smoke test there; on Windows the handles
	// contend for real.
	lockFile := filepath.Join(t.TempDir(), "eventual.lock")

	f1, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	defer f1.Close()

	f2, err := os.OpenFile(lockFile, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("failed to open test file with a second handle: %v", err)
	}
	defer f2.Close()

	if err := Lock(f1); err != nil {
		t.Fatalf("failed to acquire first lock: %v", err)
	}

	var wg sync.WaitGroup
	var lockErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		lockErr = LockBlocking(context.Background(), f2)
	}()

	time.Sleep(50 * time.Millisecond)
	if runtime.GOOS == "windows" {
		err = f1.Close()
	} else {
		err = Unlock(f1)
	}
	if err != nil {
		t.Fatalf("failed to release first lock: %v", err)
	}

	wg.Wait()
	if lockErr != nil {
		t.Fatalf("blocking lock should have succeeded: %v", lockErr)
	}
	if err := Unlock(f2); err != nil {
		t.Fatalf("failed to unlock second handle: %v", err)
	}
}

func TestAcquire(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "locks", "fingerprint.lock")

	release, err := Acquire(context.Background(), lockPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// The lock file must exist while held, and must remain afterwards:
	// deleting lock files out from under other waiters would defeat the
	// mutual exclusion.
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("lock file missing while held: %v", err)
	}

	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("lock file missing after release: %v", err)
	}

	// Reacquisition after release must succeed.
	release, err = Acquire(context.Background(), lockPath)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release after reacquire: %v", err)
	}
}
