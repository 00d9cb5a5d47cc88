// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package libcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeBuilder implements Builder by writing an empty dynamic library file,
// counting invocations.
type fakeBuilder struct {
	builds atomic.Int64
	fail   bool
}

func (b *fakeBuilder) BuildLibrary(ctx context.Context, req BuildRequest) (string, error) {
	b.builds.Add(1)
	if b.fail {
		return "", &BuildError{
			Subject:     req.DisplayName,
			Toolchain:   req.Toolchain,
			Diagnostics: "error: expected expression",
			Err:         fmt.Errorf("exit status 1"),
		}
	}
	name := "lib" + req.DisplayName + ".so"
	if err := os.WriteFile(filepath.Join(req.OutputDir, name), []byte("\x7fELF"), 0755); err != nil {
		return "", err
	}
	return name, nil
}

func writeSourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLibraryFingerprint_sensitivity(t *testing.T) {
	dir := writeSourceTree(t, map[string]string{
		"lintlib.toml": `lints = ["foo"]`,
		"src/lib.x":    "fn main() {}",
	})

	base, err := LibraryFingerprint(dir, "2023-06-01", ProfileDebug)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("deterministic", func(t *testing.T) {
		again, err := LibraryFingerprint(dir, "2023-06-01", ProfileDebug)
		if err != nil {
			t.Fatal(err)
		}
		if again != base {
			t.Errorf("fingerprint not stable: %s then %s", base, again)
		}
	})

	t.Run("source change", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "src/lib.x"), []byte("fn main() { changed() }"), 0644); err != nil {
			t.Fatal(err)
		}
		changed, err := LibraryFingerprint(dir, "2023-06-01", ProfileDebug)
		if err != nil {
			t.Fatal(err)
		}
		if changed == base {
			t.Error("fingerprint unchanged after source edit")
		}
	})

	t.Run("toolchain change", func(t *testing.T) {
		other, err := LibraryFingerprint(dir, "2023-07-01", ProfileDebug)
		if err != nil {
			t.Fatal(err)
		}
		if other == base {
			t.Error("fingerprint unchanged across toolchains")
		}
	})

	t.Run("profile change", func(t *testing.T) {
		other, err := LibraryFingerprint(dir, "2023-06-01", ProfileRelease)
		if err != nil {
			t.Fatal(err)
		}
		if other == base {
			t.Error("fingerprint unchanged across profiles")
		}
	})

	t.Run("build output excluded", func(t *testing.T) {
		before, err := LibraryFingerprint(dir, "2023-06-01", ProfileDebug)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.MkdirAll(filepath.Join(dir, "target"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "target", "junk.o"), []byte("junk"), 0644); err != nil {
			t.Fatal(err)
		}
		after, err := LibraryFingerprint(dir, "2023-06-01", ProfileDebug)
		if err != nil {
			t.Fatal(err)
		}
		if after != before {
			t.Error("build output directory affected the fingerprint")
		}
	})
}

func TestEnsureLibrary_cacheDiscipline(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	builder := &fakeBuilder{}

	dir := writeSourceTree(t, map[string]string{
		"lintlib.toml": `lints = ["foo"]`,
		"src/lib.x":    "fn main() {}",
	})

	first, err := store.EnsureLibrary(ctx, "alpha", dir, "2023-06-01", ProfileDebug, builder)
	if err != nil {
		t.Fatal(err)
	}
	if got := builder.builds.Load(); got != 1 {
		t.Fatalf("got %d builds, want 1", got)
	}
	if _, err := os.Stat(first.LibraryPath); err != nil {
		t.Fatalf("library file missing: %v", err)
	}

	// Unchanged inputs: cache hit, no rebuild, same artifact path.
	second, err := store.EnsureLibrary(ctx, "alpha", dir, "2023-06-01", ProfileDebug, builder)
	if err != nil {
		t.Fatal(err)
	}
	if got := builder.builds.Load(); got != 1 {
		t.Fatalf("rebuilt despite unchanged inputs: %d builds", got)
	}
	if second.LibraryPath != first.LibraryPath {
		t.Errorf("cache hit returned different path %s, want %s", second.LibraryPath, first.LibraryPath)
	}

	// A fresh Store over the same directory sees the same entry, since
	// the cache is persistent state rather than process state.
	reopened, err := OpenStore(store.BasePath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reopened.EnsureLibrary(ctx, "alpha", dir, "2023-06-01", ProfileDebug, builder); err != nil {
		t.Fatal(err)
	}
	if got := builder.builds.Load(); got != 1 {
		t.Fatalf("rebuilt after reopen: %d builds", got)
	}

	// Editing a source file invalidates exactly this entry.
	if err := os.WriteFile(filepath.Join(dir, "src/lib.x"), []byte("fn main() { changed() }"), 0644); err != nil {
		t.Fatal(err)
	}
	third, err := store.EnsureLibrary(ctx, "alpha", dir, "2023-06-01", ProfileDebug, builder)
	if err != nil {
		t.Fatal(err)
	}
	if got := builder.builds.Load(); got != 2 {
		t.Fatalf("got %d builds after source edit, want 2", got)
	}
	if third.Fingerprint == first.Fingerprint {
		t.Error("fingerprint unchanged after source edit")
	}
}

func TestEnsureLibrary_missingLibraryFileForcesRebuild(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	builder := &fakeBuilder{}
	dir := writeSourceTree(t, map[string]string{"lintlib.toml": `lints = ["foo"]`})

	artifact, err := store.EnsureLibrary(ctx, "alpha", dir, "2023-06-01", ProfileDebug, builder)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(artifact.LibraryPath); err != nil {
		t.Fatal(err)
	}

	if _, err := store.EnsureLibrary(ctx, "alpha", dir, "2023-06-01", ProfileDebug, builder); err != nil {
		t.Fatal(err)
	}
	if got := builder.builds.Load(); got != 2 {
		t.Fatalf("got %d builds, want 2 after artifact file removal", got)
	}
}

func TestEnsureLibrary_concurrentSameFingerprint(t *testing.T) {
	// Concurrent builds of the same fingerprint must collapse into one
	// underlying build, with every caller receiving the same artifact.
	ctx := context.Background()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	builder := &fakeBuilder{}
	dir := writeSourceTree(t, map[string]string{"lintlib.toml": `lints = ["foo"]`})

	const callers = 8
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifact, err := store.EnsureLibrary(ctx, "alpha", dir, "2023-06-01", ProfileDebug, builder)
			if err != nil {
				errs[i] = err
				return
			}
			paths[i] = artifact.LibraryPath
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Errorf("caller %d got path %s, caller 0 got %s", i, paths[i], paths[0])
		}
	}
	if got := builder.builds.Load(); got != 1 {
		t.Errorf("got %d underlying builds, want 1", got)
	}
}

func TestEnsureLibrary_buildFailure(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	builder := &fakeBuilder{fail: true}
	dir := writeSourceTree(t, map[string]string{"lintlib.toml": `lints = ["foo"]`})

	_, err = store.EnsureLibrary(ctx, "alpha", dir, "2023-06-01", ProfileDebug, builder)
	if err == nil {
		t.Fatal("expected build error")
	}

	// A failed build must leave no cache entry behind.
	fp, err := LibraryFingerprint(dir, "2023-06-01", ProfileDebug)
	if err != nil {
		t.Fatal(err)
	}
	if entry := store.Entry(fp); entry != nil {
		t.Errorf("failed build left cache entry %v", entry)
	}
}
