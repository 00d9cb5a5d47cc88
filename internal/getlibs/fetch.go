// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package getlibs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"

	getter "github.com/hashicorp/go-getter"
)

// Fetcher retrieves remote library sources into local checkout directories
// in preparation for resolution and building.
//
// Checkouts are keyed by a digest of the full remote coordinate, so the
// same coordinate is fetched at most once and then reused across runs.
// Changing any part of the coordinate, including a ?ref= query portion,
// selects a fresh checkout directory. There is deliberately no "update in
// place": a coordinate without a pinned revision that has moved upstream
// is only refreshed by deleting its checkout directory.
type Fetcher struct {
	// CheckoutsDir is the directory that checkout directories are created
	// under, normally the "checkouts" subtree of the cache root.
	CheckoutsDir string
}

// Fetch ensures a local checkout of the given remote coordinate exists and
// returns its directory.
func (f *Fetcher) Fetch(ctx context.Context, source RemoteSource) (string, error) {
	dst := filepath.Join(f.CheckoutsDir, checkoutKey(source))

	// Fetch-or-reuse: a non-empty checkout directory is taken as a
	// complete earlier fetch. go-getter's own atomicity is not trusted
	// here; we fetch into a staging directory and rename, so a killed
	// fetch never leaves a half-populated checkout behind.
	if entries, err := os.ReadDir(dst); err == nil && len(entries) > 0 {
		log.Printf("[TRACE] getlibs: reusing existing checkout of %s at %s", source, dst)
		return dst, nil
	}

	if err := os.MkdirAll(f.CheckoutsDir, 0755); err != nil {
		return "", err
	}
	staging, err := os.MkdirTemp(f.CheckoutsDir, "fetch-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	log.Printf("[DEBUG] getlibs: fetching %s into %s", source, dst)
	client := getter.Client{
		Ctx:  ctx,
		Src:  string(source),
		Dst:  filepath.Join(staging, "pkg"),
		Pwd:  f.CheckoutsDir,
		Mode: getter.ClientModeDir,
	}
	if err := client.Get(); err != nil {
		return "", &SourceResolutionError{Source: source, Err: err}
	}

	// An empty checkout directory here is debris from a killed earlier
	// fetch; it must make way for the rename or the new checkout is lost.
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("cannot replace stale checkout %s: %w", dst, err)
	}
	if err := os.Rename(filepath.Join(staging, "pkg"), dst); err != nil {
		return "", err
	}
	return dst, nil
}

func checkoutKey(source RemoteSource) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:16]
}
