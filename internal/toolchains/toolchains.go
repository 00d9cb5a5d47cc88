// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

// Package toolchains determines which toolchain release each lint library
// must be built with, and verifies or provisions the releases themselves.
//
// A toolchain identifier is an opaque release channel string, either a
// numbered stable release such as "1.71.0" or a dated channel such as
// "nightly-2023-06-01". Plugin and driver ABI compatibility is defined per
// identifier: a library built under one identifier can only be loaded by a
// driver built under the same identifier.
package toolchains

import (
	"strings"

	version "github.com/hashicorp/go-version"
)

// ValidateID checks that a toolchain identifier is usable as a single
// cache path component. Identifiers arrive from library manifests,
// including remote-fetched ones, so anything that names a filesystem
// location rather than a release is rejected before it can reach the
// cache layout.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return &InvalidIDError{ID: id}
	}
	return nil
}

// ReleaseVersion attempts to interpret a toolchain identifier as a
// numbered release. Dated channels ("nightly-2023-06-01" and the like)
// have no version ordering and return false.
func ReleaseVersion(id string) (*version.Version, bool) {
	if strings.Contains(id, "-") {
		// Channel names and dated releases are never treated as ordered
		// versions: there is no meaningful compatibility range between two
		// nightlies.
		return nil, false
	}
	v, err := version.NewVersion(id)
	if err != nil {
		return nil, false
	}
	return v, true
}

// NearestCompatible selects, from the given installed identifiers, the
// newest numbered release that is older than want and shares its major and
// minor version. This implements the opt-in downgrade policy: exact
// matching is always preferred and dated channels never downgrade.
func NearestCompatible(want string, have []string) (string, bool) {
	wantVersion, ok := ReleaseVersion(want)
	if !ok {
		return "", false
	}
	wantSegments := wantVersion.Segments()

	var best *version.Version
	var bestID string
	for _, id := range have {
		v, ok := ReleaseVersion(id)
		if !ok {
			continue
		}
		segments := v.Segments()
		if segments[0] != wantSegments[0] || segments[1] != wantSegments[1] {
			continue
		}
		if v.GreaterThanOrEqual(wantVersion) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestID = id
		}
	}

	if best == nil {
		return "", false
	}
	return bestID, true
}
