// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

// Package lintset merges resolved lint libraries into one validated
// execution set and partitions it by toolchain release.
//
// Validation happens before anything is built: two libraries exporting
// the same lint name is a hard error for the whole run, because silently
// picking one of them could hide or double-report diagnostics.
package lintset

import (
	"fmt"
	"sort"

	"github.com/dynalint/dynalint/internal/getlibs"
)

// ResolvedLibrary is a library specification bound to the toolchain
// release it must be built with.
type ResolvedLibrary struct {
	Spec      *getlibs.LibrarySpec
	Toolchain string
}

// ConflictError reports two distinct libraries exporting the same lint
// name. It aborts the entire run before any build or execution.
type ConflictError struct {
	Lint      string
	FirstDir  string
	SecondDir string
}

func (err *ConflictError) Error() string {
	return fmt.Sprintf("lint %q is exported by both %s and %s; every lint name must be unique across libraries",
		err.Lint, err.FirstDir, err.SecondDir)
}

// Group is the set of resolved libraries sharing one toolchain release,
// executed together in one driver invocation. Groups are constructed per
// run and never persisted.
type Group struct {
	Toolchain string
	Libraries []*ResolvedLibrary
}

// Validate checks the merged set for lint name conflicts. Libraries are
// expected to already be deduplicated by canonical source directory (the
// specification parser's job), so any duplicate lint name seen here is a
// genuine cross-library conflict.
func Validate(libs []*ResolvedLibrary) error {
	seen := make(map[string]string) // lint name -> source dir
	for _, lib := range libs {
		for _, lint := range lib.Spec.Metadata.Lints {
			if firstDir, ok := seen[lint]; ok {
				return &ConflictError{
					Lint:      lint,
					FirstDir:  firstDir,
					SecondDir: lib.Spec.Dir,
				}
			}
			seen[lint] = lib.Spec.Dir
		}
	}
	return nil
}

// Partition splits the validated set into execution groups by toolchain
// release, with deterministic group and member ordering.
func Partition(libs []*ResolvedLibrary) []*Group {
	byToolchain := make(map[string]*Group)
	for _, lib := range libs {
		group, ok := byToolchain[lib.Toolchain]
		if !ok {
			group = &Group{Toolchain: lib.Toolchain}
			byToolchain[lib.Toolchain] = group
		}
		group.Libraries = append(group.Libraries, lib)
	}

	groups := make([]*Group, 0, len(byToolchain))
	for _, group := range byToolchain {
		sort.Slice(group.Libraries, func(i, j int) bool {
			return group.Libraries[i].Spec.Dir < group.Libraries[j].Spec.Dir
		})
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Toolchain < groups[j].Toolchain })
	return groups
}
