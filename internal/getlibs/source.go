// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package getlibs

import (
	"fmt"
	"strings"
)

// Source is an unresolved reference to a lint library's source code, as
// declared in configuration. Implementations are immutable once parsed.
//
// The concrete types are [PathSource], [PatternSource], [RemoteSource] and
// [RegistrySource].
type Source interface {
	sourceSigil()

	// String returns the declared form of the source, suitable for
	// inclusion in error messages and logs.
	String() string
}

// PathSource is a literal filesystem path to a single library source
// directory, either absolute or relative to the workspace directory.
type PathSource string

func (s PathSource) sourceSigil() {}

func (s PathSource) String() string { return string(s) }

// PatternSource is a glob pattern evaluated against the workspace
// directory, where every matching directory is treated as a library source
// directory. The pattern syntax is doublestar's extended filepath.Match,
// so "**" crosses directory boundaries.
type PatternSource string

func (s PatternSource) sourceSigil() {}

func (s PatternSource) String() string { return string(s) }

// RemoteSource is a remote coordinate in go-getter address syntax, such as
// "git::https://example.com/lints.git?ref=v1.2.0". The referenced package
// is fetched into a local checkout directory before use.
type RemoteSource string

func (s RemoteSource) sourceSigil() {}

func (s RemoteSource) String() string { return string(s) }

// RegistrySource is a named entry in a library registry index together
// with a version constraint, declared as "registry:NAME@CONSTRAINT". The
// constraint part may be omitted to accept any version.
type RegistrySource struct {
	Name       string
	Constraint string
}

func (s RegistrySource) sourceSigil() {}

func (s RegistrySource) String() string {
	if s.Constraint == "" {
		return "registry:" + s.Name
	}
	return fmt.Sprintf("registry:%s@%s", s.Name, s.Constraint)
}

// remoteSourcePrefixes are the go-getter forcing tokens and URL schemes we
// recognize as remote coordinates. Anything else is a local path or
// pattern.
var remoteSourcePrefixes = []string{
	"git::", "hg::", "http::", "https::", "s3::", "gcs::",
	"github.com/", "gitlab.com/", "bitbucket.org/",
}

// ParseSource classifies one declared source string into a [Source] value.
//
// The classification rules, in order:
//
//   - "registry:NAME[@CONSTRAINT]" is a registry coordinate;
//   - anything containing "://" or starting with a go-getter forcing token
//     (such as "git::") or a well-known code host is a remote coordinate;
//   - anything containing glob metacharacters is a pattern;
//   - everything else is a literal path.
func ParseSource(declared string) (Source, error) {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return nil, &InvalidSourceError{Declared: declared, Reason: "empty source declaration"}
	}

	if rest, ok := strings.CutPrefix(declared, "registry:"); ok {
		name, constraint, _ := strings.Cut(rest, "@")
		if name == "" {
			return nil, &InvalidSourceError{Declared: declared, Reason: "registry source must name a registry entry"}
		}
		return RegistrySource{Name: name, Constraint: constraint}, nil
	}

	if isRemoteSource(declared) {
		return RemoteSource(declared), nil
	}

	if strings.ContainsAny(declared, "*?[{") {
		return PatternSource(declared), nil
	}

	return PathSource(declared), nil
}

func isRemoteSource(declared string) bool {
	if strings.Contains(declared, "://") {
		return true
	}
	for _, prefix := range remoteSourcePrefixes {
		if strings.HasPrefix(declared, prefix) {
			return true
		}
	}
	return false
}
