// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package libcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/sumdb/dirhash"
)

// Fingerprint is a content-derived cache key for one built artifact: it
// covers the library's canonical source path, its toolchain identifier,
// the build profile, and a hash of every source file in the tree. Any
// change to any of those inputs yields a different fingerprint and
// therefore a different cache entry.
type Fingerprint string

// Profile selects the optimization profile the toolchain builds under.
type Profile string

const (
	ProfileDebug   Profile = "debug"
	ProfileRelease Profile = "release"
)

// ParseProfile validates a profile name from configuration.
func ParseProfile(name string) (Profile, error) {
	switch Profile(name) {
	case ProfileDebug, ProfileRelease:
		return Profile(name), nil
	default:
		return "", fmt.Errorf("invalid build profile %q: must be %q or %q", name, ProfileDebug, ProfileRelease)
	}
}

// excludedTreeDirs are directory names skipped when hashing a source
// tree. These hold build outputs or version control bookkeeping whose
// contents churn without changing what the toolchain would compile.
var excludedTreeDirs = map[string]bool{
	".git":   true,
	"target": true,
	"build":  true,
}

// LibraryFingerprint computes the cache key for building the library at
// sourceDir with the given toolchain and profile.
func LibraryFingerprint(sourceDir, toolchain string, profile Profile) (Fingerprint, error) {
	treeHash, err := HashSourceTree(sourceDir)
	if err != nil {
		return "", fmt.Errorf("hashing source tree of %s: %w", sourceDir, err)
	}

	h := sha256.New()
	for _, part := range []string{"lib", filepath.ToSlash(sourceDir), toolchain, string(profile), treeHash} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))[:32]), nil
}

// HashSourceTree computes a hash over every regular file under root,
// excluding build-output and VCS directories, using the dirhash "h1"
// construction so the result is stable across platforms and walk order.
func HashSourceTree(root string) (string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != root && excludedTreeDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			// Sockets, devices and dangling symlinks have no stable
			// content to hash.
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	return dirhash.Hash1(files, func(name string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(root, filepath.FromSlash(name)))
	})
}

func (f Fingerprint) String() string { return string(f) }

// valid reports whether the fingerprint looks like one we produced, as a
// guard against path-traversal through corrupted metadata.
func (f Fingerprint) valid() bool {
	if len(f) != 32 {
		return false
	}
	return strings.IndexFunc(string(f), func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f')
	}) < 0
}
