// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

// Package libcache is the persistent build cache: it compiles lint
// libraries into dynamic-library artifacts keyed by fingerprint, and
// provides the shared cache directory layout and per-key locking that the
// driver provisioner reuses.
//
// The cache root contains:
//
//	libraries/<fingerprint>/   built library artifacts with metadata
//	drivers/<toolchain>/       driver harness binaries (see internal/drivers)
//	checkouts/<key>/           remote source checkouts (see internal/getlibs)
//	locks/                     lock files for the mutual-exclusion discipline
//
// The layout is stable across runs and safe to delete entirely or
// partially; deletion only forces rebuilds of the removed entries. The
// Store is the sole writer of artifact entries, and entries are installed
// with a stage-then-rename discipline so a concurrent reader never
// observes a partially written artifact.
package libcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
)

const artifactMetaFilename = "artifact.json"

// Store is a build cache rooted at one local directory, opened at the
// start of a run and shared by the whole pipeline.
type Store struct {
	baseDir string

	// group collapses concurrent same-fingerprint builds within this
	// process; the per-fingerprint lock files do the same across
	// processes.
	group singleflight.Group
}

// Artifact describes one built dynamic library in the cache.
type Artifact struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	SourceDir   string      `json:"source_dir"`
	Toolchain   string      `json:"toolchain"`
	Profile     Profile     `json:"profile"`

	// LibraryPath is the absolute path of the built dynamic library.
	LibraryPath string `json:"library_path"`

	BuiltAt time.Time `json:"built_at"`
}

// BuildRequest describes one library build for a [Builder].
type BuildRequest struct {
	// DisplayName identifies the library in errors and logs.
	DisplayName string

	// SourceDir is the canonical library source directory.
	SourceDir string

	// Toolchain is the release to build under.
	Toolchain string

	// Profile is the optimization profile.
	Profile Profile

	// OutputDir is the staging directory the produced dynamic library
	// must be placed in. It exists and is empty.
	OutputDir string
}

// Builder invokes the toolchain's compiler for one library. The compiler
// is a black box that either succeeds, producing exactly one
// dynamic-library file under OutputDir, or fails with diagnostic text.
type Builder interface {
	BuildLibrary(ctx context.Context, req BuildRequest) (libraryFilename string, err error)
}

// OpenStore opens (creating if necessary) the build cache rooted at
// baseDir.
func OpenStore(baseDir string) (*Store, error) {
	for _, sub := range []string{"libraries", "drivers", "checkouts", "locks"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("cannot create cache directory: %w", err)
		}
	}
	return &Store{baseDir: filepath.Clean(baseDir)}, nil
}

// BasePath returns the cache root directory.
func (s *Store) BasePath() string { return s.baseDir }

// CheckoutsDir returns the subtree for remote source checkouts.
func (s *Store) CheckoutsDir() string { return filepath.Join(s.baseDir, "checkouts") }

// DriversDir returns the subtree for driver harness binaries.
func (s *Store) DriversDir() string { return filepath.Join(s.baseDir, "drivers") }

// LockPath returns the lock file path for the given mutual-exclusion key.
func (s *Store) LockPath(key string) string {
	return filepath.Join(s.baseDir, "locks", key+".lock")
}

func (s *Store) entryDir(fp Fingerprint) string {
	return filepath.Join(s.baseDir, "libraries", string(fp))
}

// Entry returns the cached artifact for the given fingerprint, or nil if
// no valid entry exists. An entry whose recorded library file has gone
// missing is treated as absent.
func (s *Store) Entry(fp Fingerprint) *Artifact {
	if !fp.valid() {
		return nil
	}

	raw, err := os.ReadFile(filepath.Join(s.entryDir(fp), artifactMetaFilename))
	if err != nil {
		return nil
	}

	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		log.Printf("[WARN] libcache: corrupt metadata for cache entry %s, will rebuild", fp)
		return nil
	}
	if artifact.Fingerprint != fp {
		log.Printf("[WARN] libcache: cache entry %s records mismatched fingerprint %s, will rebuild", fp, artifact.Fingerprint)
		return nil
	}
	if _, err := os.Stat(artifact.LibraryPath); err != nil {
		log.Printf("[WARN] libcache: cache entry %s lost its library file, will rebuild", fp)
		return nil
	}
	return &artifact
}
