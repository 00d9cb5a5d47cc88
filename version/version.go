// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

// Package version records the release version of dynalint itself.
//
// The driver provisioner compares this version against the version reported
// by an already-built driver harness to decide whether the harness predates
// the current release and must be rebuilt.
package version

import (
	version "github.com/hashicorp/go-version"
)

// Version is the main version number that is being run at the moment,
// populated at link time for release builds.
var Version = "0.5.0"

// Prerelease is a pre-release marker for the version. If this is ""
// then it means that it is a final release. Otherwise, this is a
// pre-release such as "dev" (in development).
var Prerelease = "dev"

// SemVer is an instance of version.Version representing the main version
// without any pre-release information.
var SemVer *version.Version

func init() {
	SemVer = version.Must(version.NewVersion(Version))
}

// String returns the complete version string, including prerelease.
func String() string {
	if Prerelease != "" {
		return Version + "-" + Prerelease
	}
	return Version
}
