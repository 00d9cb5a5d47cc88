// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

// Package runner wires the resolution, build and provisioning stages into
// one pipeline and invokes the matching driver for each toolchain group
// against the target project.
//
// Stage errors follow a fail-closed-then-isolate policy: specification
// and conflict errors abort the whole run before anything is built, while
// toolchain availability, build and execution errors abort only the
// execution group they belong to, so independent groups still run and
// report.
package runner

import (
	"context"
	"log"
	"runtime"

	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/dynalint/dynalint/internal/drivers"
	"github.com/dynalint/dynalint/internal/getlibs"
	"github.com/dynalint/dynalint/internal/libcache"
	"github.com/dynalint/dynalint/internal/lintset"
	"github.com/dynalint/dynalint/internal/toolchains"
)

// targetLockName is the lock file created in the target project's
// directory to serialize driver invocations that share its build-output
// state. The underlying toolchain's incremental build state is not safe
// for concurrent writers, whether the competing writer is another of our
// execution groups or another dynalint process entirely.
const targetLockName = ".dynalint.lock"

// DriverProvisioner is the part of the driver cache the runner needs.
// *drivers.Provisioner implements it.
type DriverProvisioner interface {
	Ensure(ctx context.Context, toolchain string) (*drivers.Driver, error)
}

// Runner executes the full pipeline for one run.
type Runner struct {
	Parser         *getlibs.Parser
	Resolver       *toolchains.Resolver
	Store          *libcache.Store
	LibraryBuilder libcache.Builder
	Drivers        DriverProvisioner
	Executor       Executor

	// Parallelism bounds concurrent library builds across all groups.
	// Zero means one worker per CPU.
	Parallelism int
}

// Request describes one run.
type Request struct {
	Sources     []getlibs.DeclaredSource
	TargetDir   string
	PassThrough []string
	Profile     libcache.Profile
}

// GroupResult is the outcome of one execution group.
type GroupResult struct {
	Toolchain string

	// Libraries are the display names of the group's members.
	Libraries []string

	// Err is the group-scoped failure, if any: toolchain unavailable, a
	// member's build failure, driver provisioning failure, or the driver
	// process failing to run. Nil when the driver ran to completion.
	Err error

	// LintFindings reports that the driver ran successfully and lints
	// fired at error severity. Not a system error; strictness policy is
	// the caller's.
	LintFindings bool
}

// Result is the aggregated outcome of a run that got past specification
// and conflict validation.
type Result struct {
	Groups []*GroupResult

	// Warnings are non-fatal specification diagnostics, currently glob
	// patterns that failed to expand.
	Warnings []error
}

// GroupErr aggregates the group-scoped errors, or nil if every group ran.
func (r *Result) GroupErr() error {
	var errs *multierror.Error
	for _, group := range r.Groups {
		if group.Err != nil {
			errs = multierror.Append(errs, group.Err)
		}
	}
	return errs.ErrorOrNil()
}

// LintFindings reports whether any group's driver reported lint-level
// diagnostics.
func (r *Result) LintFindings() bool {
	for _, group := range r.Groups {
		if group.LintFindings {
			return true
		}
	}
	return false
}

// Run executes the pipeline. A non-nil error is a whole-run abort
// (specification or conflict error, or cancellation) and means nothing
// was executed; group-scoped failures are reported in the Result instead.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	specs, warnings, err := r.Parser.Resolve(ctx, req.Sources)
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		log.Printf("[WARN] runner: %s", warning)
	}

	resolved, err := r.resolveToolchains(ctx, specs)
	if err != nil {
		return nil, err
	}

	// Fail closed on lint name conflicts before anything is built.
	if err := lintset.Validate(resolved); err != nil {
		return nil, err
	}

	groups := lintset.Partition(resolved)
	log.Printf("[DEBUG] runner: %d libraries across %d toolchain groups", len(resolved), len(groups))

	results := make([]*GroupResult, len(groups))
	buildSem := make(chan struct{}, r.parallelism())

	eg, egCtx := errgroup.WithContext(ctx)
	for i, group := range groups {
		eg.Go(func() error {
			results[i] = r.runGroup(egCtx, group, req, buildSem)
			// Group failures are recorded, not returned: one group's
			// failure must not cancel its siblings.
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Result{Groups: results, Warnings: warnings}, nil
}

// resolveToolchains determines each library's required release
// concurrently. Determination failures are whole-run errors; release
// availability is checked later, per group.
func (r *Runner) resolveToolchains(ctx context.Context, specs []*getlibs.LibrarySpec) ([]*lintset.ResolvedLibrary, error) {
	resolved := make([]*lintset.ResolvedLibrary, len(specs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.parallelism())
	for i, spec := range specs {
		eg.Go(func() error {
			id, err := r.Resolver.RequiredToolchain(egCtx, spec)
			if err != nil {
				return err
			}
			resolved[i] = &lintset.ResolvedLibrary{Spec: spec, Toolchain: id}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *Runner) runGroup(ctx context.Context, group *lintset.Group, req Request, buildSem chan struct{}) *GroupResult {
	result := &GroupResult{Toolchain: group.Toolchain}
	for _, lib := range group.Libraries {
		result.Libraries = append(result.Libraries, lib.Spec.DisplayName())
	}

	if err := r.Resolver.Ensure(ctx, group.Toolchain); err != nil {
		result.Err = err
		return result
	}

	artifacts, err := r.buildGroup(ctx, group, req.Profile, buildSem)
	if err != nil {
		result.Err = err
		return result
	}

	driver, err := r.Drivers.Ensure(ctx, group.Toolchain)
	if err != nil {
		result.Err = err
		return result
	}

	libraryPaths := make([]string, len(artifacts))
	for i, artifact := range artifacts {
		libraryPaths[i] = artifact.LibraryPath
	}

	// All invocations touching the target project's build-output
	// directory serialize, whether the competing invocation is another
	// of our groups or another dynalint process entirely.
	releaseTarget, err := lockTarget(ctx, req.TargetDir)
	if err != nil {
		result.Err = err
		return result
	}
	defer func() {
		if err := releaseTarget(); err != nil {
			log.Printf("[ERROR] runner: releasing target project lock: %s", err)
		}
	}()

	log.Printf("[INFO] runner: running %d libraries under toolchain %s against %s",
		len(libraryPaths), group.Toolchain, req.TargetDir)
	outcome, err := r.Executor.Execute(ctx, driver, libraryPaths, req.TargetDir, req.PassThrough)
	if err != nil {
		result.Err = err
		return result
	}
	result.LintFindings = outcome.LintFindings
	return result
}

// buildGroup builds the group's members, bounded by the shared build
// semaphore so total build parallelism stays at the configured limit no
// matter how many groups run at once.
func (r *Runner) buildGroup(ctx context.Context, group *lintset.Group, profile libcache.Profile, buildSem chan struct{}) ([]*libcache.Artifact, error) {
	artifacts := make([]*libcache.Artifact, len(group.Libraries))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, lib := range group.Libraries {
		eg.Go(func() error {
			select {
			case buildSem <- struct{}{}:
				defer func() { <-buildSem }()
			case <-egCtx.Done():
				return egCtx.Err()
			}

			artifact, err := r.Store.EnsureLibrary(egCtx, lib.Spec.DisplayName(), lib.Spec.Dir, lib.Toolchain, profile, r.LibraryBuilder)
			if err != nil {
				return err
			}
			artifacts[i] = artifact
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (r *Runner) parallelism() int {
	if r.Parallelism > 0 {
		return r.Parallelism
	}
	return runtime.NumCPU()
}
