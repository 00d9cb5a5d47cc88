// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dynalint/dynalint/internal/drivers"
	"github.com/dynalint/dynalint/internal/getlibs"
	"github.com/dynalint/dynalint/internal/libcache"
	"github.com/dynalint/dynalint/internal/lintset"
	"github.com/dynalint/dynalint/internal/toolchains"
)

// fakeManager is an in-memory toolchain manager.
type fakeManager struct {
	installed []string
}

func (m *fakeManager) Installed(ctx context.Context) ([]string, error) {
	return append([]string(nil), m.installed...), nil
}

func (m *fakeManager) Install(ctx context.Context, id string) error {
	return fmt.Errorf("install not permitted in tests")
}

func (m *fakeManager) ActiveDefault(ctx context.Context) (string, error) {
	return "", fmt.Errorf("no active toolchain")
}

// fakeLibraryBuilder writes a stub dynamic library, optionally failing
// for libraries whose source directory contains failSubstring.
type fakeLibraryBuilder struct {
	builds        atomic.Int64
	failSubstring string
}

func (b *fakeLibraryBuilder) BuildLibrary(ctx context.Context, req libcache.BuildRequest) (string, error) {
	b.builds.Add(1)
	if b.failSubstring != "" && strings.Contains(req.SourceDir, b.failSubstring) {
		return "", &libcache.BuildError{
			Subject:     req.DisplayName,
			Toolchain:   req.Toolchain,
			Diagnostics: "error: broken on purpose",
			Err:         fmt.Errorf("exit status 1"),
		}
	}
	name := "lib" + req.DisplayName + ".so"
	if err := os.WriteFile(filepath.Join(req.OutputDir, name), []byte("\x7fELF"), 0755); err != nil {
		return "", err
	}
	return name, nil
}

// fakeProvisioner hands out nominal drivers without building anything.
type fakeProvisioner struct {
	failFor string
}

func (p *fakeProvisioner) Ensure(ctx context.Context, toolchain string) (*drivers.Driver, error) {
	if toolchain == p.failFor {
		return nil, &libcache.BuildError{
			Subject:   "driver harness",
			Toolchain: toolchain,
			Err:       fmt.Errorf("exit status 1"),
		}
	}
	return &drivers.Driver{Toolchain: toolchain, Path: "/nonexistent/driver-" + toolchain}, nil
}

// fakeExecutor records invocations.
type fakeExecutor struct {
	mu          sync.Mutex
	invocations []execRecord
	findingsFor string // toolchain whose invocation reports lint findings
}

type execRecord struct {
	Toolchain string
	Libraries []string
	TargetDir string
	Args      []string
}

func (e *fakeExecutor) Execute(ctx context.Context, driver *drivers.Driver, libraryPaths []string, targetDir string, passThrough []string) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invocations = append(e.invocations, execRecord{
		Toolchain: driver.Toolchain,
		Libraries: append([]string(nil), libraryPaths...),
		TargetDir: targetDir,
		Args:      append([]string(nil), passThrough...),
	})
	return Outcome{LintFindings: driver.Toolchain == e.findingsFor}, nil
}

// overlapExecutor detects driver invocations that overlap in time.
type overlapExecutor struct {
	active      atomic.Int32
	overlapped  atomic.Bool
	invocations atomic.Int32
}

func (e *overlapExecutor) Execute(ctx context.Context, driver *drivers.Driver, libraryPaths []string, targetDir string, passThrough []string) (Outcome, error) {
	if e.active.Add(1) > 1 {
		e.overlapped.Store(true)
	}
	time.Sleep(25 * time.Millisecond)
	e.active.Add(-1)
	e.invocations.Add(1)
	return Outcome{}, nil
}

type testFixture struct {
	runner    *Runner
	builder   *fakeLibraryBuilder
	executor  *fakeExecutor
	workspace string
	targetDir string
}

func newFixture(t *testing.T, installed ...string) *testFixture {
	t.Helper()
	store, err := libcache.OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	builder := &fakeLibraryBuilder{}
	executor := &fakeExecutor{}
	workspace := t.TempDir()

	return &testFixture{
		runner: &Runner{
			Parser:         &getlibs.Parser{WorkspaceDir: workspace},
			Resolver:       &toolchains.Resolver{Manager: &fakeManager{installed: installed}},
			Store:          store,
			LibraryBuilder: builder,
			Drivers:        &fakeProvisioner{},
			Executor:       executor,
			Parallelism:    4,
		},
		builder:   builder,
		executor:  executor,
		workspace: workspace,
		targetDir: t.TempDir(),
	}
}

func (f *testFixture) writeLibrary(t *testing.T, name, toolchain string, lints ...string) {
	t.Helper()
	dir := filepath.Join(f.workspace, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	var quoted []string
	for _, lint := range lints {
		quoted = append(quoted, fmt.Sprintf("%q", lint))
	}
	manifest := fmt.Sprintf("toolchain = %q\nlints = [%s]\n", toolchain, strings.Join(quoted, ", "))
	if err := os.WriteFile(filepath.Join(dir, getlibs.MetadataFilename), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
}

func (f *testFixture) run(t *testing.T, sources ...string) (*Result, error) {
	t.Helper()
	var declared []getlibs.DeclaredSource
	for _, source := range sources {
		declared = append(declared, getlibs.DeclaredSource{Addr: source})
	}
	return f.runner.Run(context.Background(), Request{
		Sources:   declared,
		TargetDir: f.targetDir,
		Profile:   libcache.ProfileDebug,
	})
}

func TestRun_singleGroup(t *testing.T) {
	f := newFixture(t, "2023-06-01")
	f.writeLibrary(t, "liba", "2023-06-01", "foo")
	f.writeLibrary(t, "libb", "2023-06-01", "bar")

	result, err := f.run(t, "liba", "libb")
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(result.Groups))
	}
	group := result.Groups[0]
	if group.Err != nil {
		t.Fatalf("group failed: %v", group.Err)
	}
	if group.Toolchain != "2023-06-01" {
		t.Errorf("wrong toolchain %q", group.Toolchain)
	}

	if len(f.executor.invocations) != 1 {
		t.Fatalf("got %d driver invocations, want 1", len(f.executor.invocations))
	}
	invocation := f.executor.invocations[0]
	if len(invocation.Libraries) != 2 {
		t.Errorf("driver got %d libraries, want 2", len(invocation.Libraries))
	}
	if invocation.TargetDir != f.targetDir {
		t.Errorf("driver ran against %s, want %s", invocation.TargetDir, f.targetDir)
	}
	if result.LintFindings() {
		t.Error("unexpected lint findings")
	}
}

func TestRun_conflictAbortsBeforeBuild(t *testing.T) {
	f := newFixture(t, "2023-06-01")
	f.writeLibrary(t, "liba", "2023-06-01", "foo")
	f.writeLibrary(t, "libb", "2023-06-01", "bar", "foo")

	_, err := f.run(t, "liba", "libb")

	var conflict *lintset.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Lint != "foo" {
		t.Errorf("wrong colliding lint %q", conflict.Lint)
	}
	if got := f.builder.builds.Load(); got != 0 {
		t.Errorf("%d libraries were built despite the conflict", got)
	}
	if len(f.executor.invocations) != 0 {
		t.Error("a driver was invoked despite the conflict")
	}
}

func TestRun_toolchainIsolation(t *testing.T) {
	// A build failure in one toolchain group must not prevent the other
	// group's driver from running and reporting.
	f := newFixture(t, "2023-06-01", "1.71.0")
	f.writeLibrary(t, "broken", "2023-06-01", "foo")
	f.writeLibrary(t, "fine", "1.71.0", "bar")
	f.builder.failSubstring = "broken"

	result, err := f.run(t, "broken", "fine")
	if err != nil {
		t.Fatal(err)
	}

	byToolchain := make(map[string]*GroupResult)
	for _, group := range result.Groups {
		byToolchain[group.Toolchain] = group
	}

	var buildErr *libcache.BuildError
	if !errors.As(byToolchain["2023-06-01"].Err, &buildErr) {
		t.Fatalf("expected BuildError for broken group, got %v", byToolchain["2023-06-01"].Err)
	}
	if byToolchain["1.71.0"].Err != nil {
		t.Fatalf("healthy group failed: %v", byToolchain["1.71.0"].Err)
	}

	if len(f.executor.invocations) != 1 || f.executor.invocations[0].Toolchain != "1.71.0" {
		t.Errorf("wrong invocations: %+v", f.executor.invocations)
	}
	if result.GroupErr() == nil {
		t.Error("overall result does not report the failed group")
	}
}

func TestRun_toolchainUnavailable(t *testing.T) {
	f := newFixture(t, "1.71.0") // 2023-06-01 not installed, auto-install off
	f.writeLibrary(t, "liba", "2023-06-01", "foo")
	f.writeLibrary(t, "libb", "1.71.0", "bar")

	result, err := f.run(t, "liba", "libb")
	if err != nil {
		t.Fatal(err)
	}

	byToolchain := make(map[string]*GroupResult)
	for _, group := range result.Groups {
		byToolchain[group.Toolchain] = group
	}

	var unavailable *toolchains.UnavailableError
	if !errors.As(byToolchain["2023-06-01"].Err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", byToolchain["2023-06-01"].Err)
	}
	// The unavailable toolchain's libraries must not have been built.
	if got := f.builder.builds.Load(); got != 1 {
		t.Errorf("got %d builds, want only the available group's", got)
	}
	if len(f.executor.invocations) != 1 || f.executor.invocations[0].Toolchain != "1.71.0" {
		t.Errorf("wrong invocations: %+v", f.executor.invocations)
	}
}

func TestRun_driverFailureIsGroupScoped(t *testing.T) {
	f := newFixture(t, "2023-06-01", "1.71.0")
	f.writeLibrary(t, "liba", "2023-06-01", "foo")
	f.writeLibrary(t, "libb", "1.71.0", "bar")
	f.runner.Drivers = &fakeProvisioner{failFor: "2023-06-01"}

	result, err := f.run(t, "liba", "libb")
	if err != nil {
		t.Fatal(err)
	}

	var failed, ran []string
	for _, group := range result.Groups {
		if group.Err != nil {
			failed = append(failed, group.Toolchain)
		} else {
			ran = append(ran, group.Toolchain)
		}
	}
	sort.Strings(failed)
	sort.Strings(ran)
	if diff := cmp.Diff([]string{"2023-06-01"}, failed); diff != "" {
		t.Errorf("wrong failed groups\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1.71.0"}, ran); diff != "" {
		t.Errorf("wrong successful groups\n%s", diff)
	}
}

func TestRun_idempotence(t *testing.T) {
	f := newFixture(t, "2023-06-01")
	f.writeLibrary(t, "liba", "2023-06-01", "foo")

	if _, err := f.run(t, "liba"); err != nil {
		t.Fatal(err)
	}
	if got := f.builder.builds.Load(); got != 1 {
		t.Fatalf("got %d builds on first run, want 1", got)
	}

	// Unchanged inputs: the second run is all cache hits.
	if _, err := f.run(t, "liba"); err != nil {
		t.Fatal(err)
	}
	if got := f.builder.builds.Load(); got != 1 {
		t.Errorf("got %d builds after second run, want 1", got)
	}
	if len(f.executor.invocations) != 2 {
		t.Errorf("driver should still run each time: %d invocations", len(f.executor.invocations))
	}
}

func TestRun_lintFindings(t *testing.T) {
	f := newFixture(t, "2023-06-01")
	f.writeLibrary(t, "liba", "2023-06-01", "foo")
	f.executor.findingsFor = "2023-06-01"

	result, err := f.run(t, "liba")
	if err != nil {
		t.Fatal(err)
	}
	if !result.LintFindings() {
		t.Error("lint findings were not surfaced")
	}
	if result.GroupErr() != nil {
		t.Errorf("lint findings are not a system error: %v", result.GroupErr())
	}
}

func TestRun_serializesDriverInvocationsPerTarget(t *testing.T) {
	// Two toolchain groups run concurrently in this one process, sharing
	// one target project. The target project's build state tolerates only
	// one driver at a time, and the lock file alone cannot provide that
	// within a single process.
	f := newFixture(t, "2023-06-01", "1.71.0")
	f.writeLibrary(t, "liba", "2023-06-01", "foo")
	f.writeLibrary(t, "libb", "1.71.0", "bar")
	executor := &overlapExecutor{}
	f.runner.Executor = executor

	result, err := f.run(t, "liba", "libb")
	if err != nil {
		t.Fatal(err)
	}
	if err := result.GroupErr(); err != nil {
		t.Fatal(err)
	}
	if got := executor.invocations.Load(); got != 2 {
		t.Fatalf("got %d driver invocations, want 2", got)
	}
	if executor.overlapped.Load() {
		t.Error("two drivers ran concurrently against the same target project")
	}
}

func TestRun_passThroughArgs(t *testing.T) {
	f := newFixture(t, "2023-06-01")
	f.writeLibrary(t, "liba", "2023-06-01", "foo")

	_, err := f.runner.Run(context.Background(), Request{
		Sources:     []getlibs.DeclaredSource{{Addr: "liba"}},
		TargetDir:   f.targetDir,
		Profile:     libcache.ProfileDebug,
		PassThrough: []string{"--cfg", "lint_build"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"--cfg", "lint_build"}, f.executor.invocations[0].Args); diff != "" {
		t.Errorf("wrong pass-through args\n%s", diff)
	}
}
