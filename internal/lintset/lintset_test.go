// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package lintset

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dynalint/dynalint/internal/getlibs"
)

func lib(dir, toolchain string, lints ...string) *ResolvedLibrary {
	return &ResolvedLibrary{
		Spec: &getlibs.LibrarySpec{
			Declared: getlibs.PathSource(dir),
			Dir:      dir,
			Metadata: &getlibs.Metadata{Name: dir, Lints: lints},
		},
		Toolchain: toolchain,
	}
}

func TestValidate(t *testing.T) {
	err := Validate([]*ResolvedLibrary{
		lib("/libs/a", "2023-06-01", "foo"),
		lib("/libs/b", "2023-06-01", "bar"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}

func TestValidate_conflict(t *testing.T) {
	err := Validate([]*ResolvedLibrary{
		lib("/libs/a", "2023-06-01", "foo"),
		lib("/libs/b", "2023-06-01", "bar", "foo"),
	})

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Lint != "foo" {
		t.Errorf("wrong lint %q", conflict.Lint)
	}
	// The error must name both sources and the colliding lint, so the
	// user can act on it without re-running.
	for _, want := range []string{"/libs/a", "/libs/b", "foo"} {
		if !strings.Contains(conflict.Error(), want) {
			t.Errorf("error %q does not mention %q", conflict.Error(), want)
		}
	}
}

func TestPartition(t *testing.T) {
	a := lib("/libs/a", "2023-06-01", "foo")
	b := lib("/libs/b", "2023-06-01", "bar")
	c := lib("/libs/c", "1.71.0", "baz")

	groups := Partition([]*ResolvedLibrary{b, c, a})

	var got [][2]string
	for _, group := range groups {
		for _, member := range group.Libraries {
			got = append(got, [2]string{group.Toolchain, member.Spec.Dir})
		}
	}
	want := [][2]string{
		{"1.71.0", "/libs/c"},
		{"2023-06-01", "/libs/a"},
		{"2023-06-01", "/libs/b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong partition\n%s", diff)
	}
}
