// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/dynalint/dynalint/internal/flock"
)

// targetLocks admits one goroutine per target project at a time within
// this process. The lock file in the target project excludes other
// processes, but fcntl locks are process-scoped: every handle opened by
// one process "acquires" them, and closing any one handle drops the
// whole process's lock. So the file lock alone cannot serialize two of
// our own groups, and the in-process level below also guarantees that
// exactly one goroutine holds the file lock at a time.
var targetLocks = struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}{sems: make(map[string]chan struct{})}

func targetSem(key string) chan struct{} {
	targetLocks.mu.Lock()
	defer targetLocks.mu.Unlock()
	sem, ok := targetLocks.sems[key]
	if !ok {
		sem = make(chan struct{}, 1)
		targetLocks.sems[key] = sem
	}
	return sem
}

// lockTarget serializes driver invocations against the given target
// project directory, both across goroutines in this process and across
// dynalint processes. The returned function releases both levels.
func lockTarget(ctx context.Context, targetDir string) (release func() error, err error) {
	key, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, err
	}
	// Two spellings of one directory must contend on one semaphore.
	if resolved, err := filepath.EvalSymlinks(key); err == nil {
		key = resolved
	}

	sem := targetSem(key)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	fileRelease, err := flock.Acquire(ctx, filepath.Join(targetDir, targetLockName))
	if err != nil {
		<-sem
		return nil, err
	}

	return func() error {
		err := fileRelease()
		<-sem
		return err
	}, nil
}
