// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package flock

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
)

// We use fcntl POSIX locks rather than BSD flock for the most consistent
// behavior across platforms, and hopefully some compatibility over NFS and
// CIFS, since cache directories are sometimes shared between machines.

// Lock acquires an exclusive advisory lock on the whole of the given open
// file, without blocking. If the lock is held by another process it returns
// an error immediately.
func Lock(f *os.File) error {
	flock := &syscall.Flock_t{
		Type:   syscall.F_RDLCK | syscall.F_WRLCK,
		Whence: int16(io.SeekStart),
		Start:  0,
		Len:    0,
	}

	return syscall.FcntlFlock(f.Fd(), syscall.F_SETLK, flock)
}

// LockBlocking is like Lock except that if the lock is currently contended
// then it blocks until it becomes available.
//
// If the given context is cancelled then it returns early with the
// cancellation error.
func LockBlocking(ctx context.Context, f *os.File) error {
	flock := &syscall.Flock_t{
		Type:   syscall.F_RDLCK | syscall.F_WRLCK,
		Whence: int16(io.SeekStart),
		Start:  0,
		Len:    0,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := make(chan error)
	go func() {
		for {
			err := syscall.FcntlFlock(f.Fd(), syscall.F_SETLKW, flock)
			if err == syscall.EINTR {
				// Any signal delivered to the process interrupts the wait,
				// but not every signal represents cancellation.
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				} else {
					continue
				}
			}
			c <- err
			close(c)
			return
		}
	}()

	for {
		select {
		case err := <-c:
			return err
		case <-ctx.Done():
			// Cancellation arrived by some means other than a Unix signal,
			// so we deliver one ourselves to force the waiting goroutine out
			// of its F_SETLKW call. SIGUSR1 is used on the assumption that
			// nothing else in dynalint uses it, and we target our own pid
			// explicitly because toolchain subprocesses may share our
			// process group.
			err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
			if err != nil {
				// Should not fail, but if it does then we'd hang here
				// forever, so instead we return an error and accept that the
				// background goroutine lingers until the next signal or
				// process exit.
				return fmt.Errorf("failed canceling lock acquisition: %w", err)
			}
		}
	}
}

// Unlock releases a lock previously acquired with Lock or LockBlocking.
func Unlock(f *os.File) error {
	flock := &syscall.Flock_t{
		Type:   syscall.F_UNLCK,
		Whence: int16(io.SeekStart),
		Start:  0,
		Len:    0,
	}

	return syscall.FcntlFlock(f.Fd(), syscall.F_SETLK, flock)
}
