// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package libcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dynalint/dynalint/internal/flock"
)

// EnsureLibrary returns the cached artifact for the given build inputs,
// compiling the library first if no valid cache entry exists.
//
// Concurrent calls with the same fingerprint collapse to one build: calls
// within this process share a singleflight group, and calls from other
// processes serialize on a per-fingerprint lock file, re-checking the
// cache once the lock is held so the second process reuses the first
// process's result.
func (s *Store) EnsureLibrary(ctx context.Context, displayName, sourceDir, toolchain string, profile Profile, builder Builder) (*Artifact, error) {
	fp, err := LibraryFingerprint(sourceDir, toolchain, profile)
	if err != nil {
		return nil, err
	}

	// The dominant path: a valid entry already on disk. Checked before
	// taking any locks since cache hits must stay cheap.
	if artifact := s.Entry(fp); artifact != nil {
		log.Printf("[DEBUG] libcache: cache hit for %s (%s)", displayName, fp)
		return artifact, nil
	}

	result, err, _ := s.group.Do(string(fp), func() (any, error) {
		return s.buildLocked(ctx, fp, displayName, sourceDir, toolchain, profile, builder)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Artifact), nil
}

func (s *Store) buildLocked(ctx context.Context, fp Fingerprint, displayName, sourceDir, toolchain string, profile Profile, builder Builder) (*Artifact, error) {
	release, err := flock.Acquire(ctx, s.LockPath("lib-"+string(fp)))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(); err != nil {
			log.Printf("[ERROR] libcache: releasing build lock for %s: %s", fp, err)
		}
	}()

	// Another process may have completed the build while we waited.
	if artifact := s.Entry(fp); artifact != nil {
		log.Printf("[DEBUG] libcache: cache entry for %s appeared while waiting for lock", fp)
		return artifact, nil
	}

	log.Printf("[INFO] libcache: building %s with toolchain %s (%s profile)", displayName, toolchain, profile)

	// Build into a staging directory and rename into place, so that a
	// cancelled or crashed build never leaves a half-written entry where
	// a concurrent reader could mistake it for a valid artifact.
	staging, err := os.MkdirTemp(filepath.Join(s.baseDir, "libraries"), ".staging-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	libraryFilename, err := builder.BuildLibrary(ctx, BuildRequest{
		DisplayName: displayName,
		SourceDir:   sourceDir,
		Toolchain:   toolchain,
		Profile:     profile,
		OutputDir:   staging,
	})
	if err != nil {
		return nil, err
	}

	entryDir := s.entryDir(fp)
	artifact := &Artifact{
		Fingerprint: fp,
		SourceDir:   sourceDir,
		Toolchain:   toolchain,
		Profile:     profile,
		LibraryPath: filepath.Join(entryDir, libraryFilename),
		BuiltAt:     time.Now().UTC(),
	}

	meta, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(staging, artifactMetaFilename), meta, 0644); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filepath.Join(staging, libraryFilename)); err != nil {
		return nil, fmt.Errorf("builder reported %q but produced no such file: %w", libraryFilename, err)
	}

	// An entry directory may exist from a previous layout or a partially
	// deleted cache; it was already rejected by Entry above, so replace
	// it wholesale.
	if err := os.RemoveAll(entryDir); err != nil {
		return nil, err
	}
	if err := os.Rename(staging, entryDir); err != nil {
		return nil, err
	}

	log.Printf("[DEBUG] libcache: built %s into cache entry %s", displayName, fp)
	return artifact, nil
}
