// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

// Package getlibs turns declared lint library sources into a canonical,
// deduplicated list of library specifications ready for toolchain
// resolution and building.
//
// A declared source is one of a literal path, a glob pattern evaluated
// against the workspace directory, a remote coordinate in go-getter
// address syntax, or a named registry entry with a version constraint.
// Whatever the declared form, resolution always ends at a local source
// directory carrying a lintlib.toml manifest; everything downstream of
// this package works only with those directories.
package getlibs

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	multierror "github.com/hashicorp/go-multierror"
)

// DeclaredSource is one library source declaration from configuration:
// the raw source string plus any per-library options attached to it.
type DeclaredSource struct {
	Addr    string
	Options Options
}

// Options are per-library settings carried from the declaration through to
// resolution. When the same library is declared more than once, the
// last-declared non-zero option values win.
type Options struct {
	// Toolchain forces the library to be built with the given toolchain
	// release, overriding both the library's own manifest declaration and
	// any pinned toolchain file in its source tree.
	Toolchain string
}

func (o Options) merge(later Options) Options {
	if later.Toolchain != "" {
		o.Toolchain = later.Toolchain
	}
	return o
}

// LibrarySpec is a library source declaration bound to a concrete local
// source directory. Immutable once returned from [Parser.Resolve].
type LibrarySpec struct {
	// Declared is the source as the user declared it.
	Declared Source

	// Dir is the canonical absolute path of the library's source
	// directory. Two declarations resolving to the same canonical path
	// are the same library.
	Dir string

	// Metadata is the parsed manifest from Dir.
	Metadata *Metadata

	// Options are the effective per-library options after duplicate
	// declarations have been collapsed.
	Options Options
}

// DisplayName returns the library's manifest name.
func (s *LibrarySpec) DisplayName() string {
	return s.Metadata.Name
}

// Parser resolves declared sources into library specifications.
type Parser struct {
	// WorkspaceDir is the directory that relative paths and glob patterns
	// are evaluated against.
	WorkspaceDir string

	// Fetcher retrieves remote coordinates. If nil, remote sources are
	// rejected.
	Fetcher *Fetcher

	// Registry resolves named registry coordinates. If nil, registry
	// sources are rejected.
	Registry *RegistryClient
}

// Resolve expands, canonicalizes and deduplicates the given declarations.
//
// The returned warnings describe per-pattern expansion failures (invalid
// patterns and patterns with no matches), which are not fatal on their
// own: the run proceeds with whatever the other sources produced. Only
// when every declaration fails to yield a library does Resolve return a
// [NoLibrariesError].
//
// Errors on literal paths, remote coordinates and registry entries are
// always fatal, because those name one specific library the user asked
// for and silently dropping it could hide diagnostics.
func (p *Parser) Resolve(ctx context.Context, declared []DeclaredSource) (specs []*LibrarySpec, warnings []error, err error) {
	byDir := make(map[string]*LibrarySpec)
	var patternErrs *multierror.Error

	for _, decl := range declared {
		source, err := ParseSource(decl.Addr)
		if err != nil {
			return nil, nil, err
		}

		var dirs []string
		switch source := source.(type) {
		case PathSource:
			dir, err := p.canonicalDir(string(source))
			if err != nil {
				return nil, nil, &SourceResolutionError{Source: source, Err: err}
			}
			dirs = []string{dir}

		case PatternSource:
			matched, err := p.expandPattern(source)
			if err != nil {
				patternErrs = multierror.Append(patternErrs, err)
				continue
			}
			dirs = matched

		case RemoteSource:
			dir, err := p.fetchRemote(ctx, source)
			if err != nil {
				return nil, nil, err
			}
			dirs = []string{dir}

		case RegistrySource:
			if p.Registry == nil {
				return nil, nil, &SourceResolutionError{
					Source: source,
					Err:    fmt.Errorf("no library registry is configured"),
				}
			}
			remote, err := p.Registry.Resolve(ctx, source)
			if err != nil {
				return nil, nil, err
			}
			dir, err := p.fetchRemote(ctx, remote)
			if err != nil {
				return nil, nil, err
			}
			dirs = []string{dir}
		}

		for _, dir := range dirs {
			if prev, ok := byDir[dir]; ok {
				// Same canonical library declared twice: silently collapse,
				// with the later declaration's options taking precedence.
				log.Printf("[DEBUG] getlibs: %s already declared as %s, merging options", dir, prev.Declared)
				prev.Options = prev.Options.merge(decl.Options)
				continue
			}

			meta, err := LoadMetadata(dir)
			if err != nil {
				if _, isPattern := source.(PatternSource); isPattern {
					// Pattern matches are candidates, not declarations; a
					// matched directory that isn't a library is just noise.
					log.Printf("[TRACE] getlibs: ignoring pattern match %s: %s", dir, err)
					continue
				}
				return nil, nil, &SourceResolutionError{Source: source, Err: err}
			}

			byDir[dir] = &LibrarySpec{
				Declared: source,
				Dir:      dir,
				Metadata: meta,
				Options:  decl.Options,
			}
		}
	}

	if len(byDir) == 0 {
		var names []string
		for _, decl := range declared {
			names = append(names, decl.Addr)
		}
		err := error(&NoLibrariesError{Declared: names})
		if patternErrs != nil {
			err = multierror.Append(patternErrs, err)
		}
		return nil, nil, err
	}

	specs = make([]*LibrarySpec, 0, len(byDir))
	for _, spec := range byDir {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Dir < specs[j].Dir })

	if patternErrs != nil {
		warnings = patternErrs.Errors
	}
	return specs, warnings, nil
}

// canonicalDir makes the given path absolute against the workspace,
// resolves symlinks and verifies that it is a directory.
func (p *Parser) canonicalDir(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.WorkspaceDir, path)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", path)
	}
	return filepath.Clean(resolved), nil
}

func (p *Parser) expandPattern(pattern PatternSource) ([]string, error) {
	if !doublestar.ValidatePattern(string(pattern)) {
		return nil, &PatternError{Pattern: pattern, Err: doublestar.ErrBadPattern}
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(p.WorkspaceDir, string(pattern)))
	if err != nil {
		return nil, &PatternError{Pattern: pattern, Err: err}
	}

	var dirs []string
	for _, match := range matches {
		dir, err := p.canonicalDir(match)
		if err != nil {
			// Matches that aren't directories (or dangle) are skipped, the
			// same as matches without a manifest.
			log.Printf("[TRACE] getlibs: ignoring pattern match %s: %s", match, err)
			continue
		}
		dirs = append(dirs, dir)
	}

	if len(dirs) == 0 {
		return nil, &PatternError{Pattern: pattern, Err: fmt.Errorf("no library directories matched")}
	}
	return dirs, nil
}

func (p *Parser) fetchRemote(ctx context.Context, source RemoteSource) (string, error) {
	if p.Fetcher == nil {
		return "", &SourceResolutionError{
			Source: source,
			Err:    fmt.Errorf("remote library sources are not enabled"),
		}
	}
	dir, err := p.Fetcher.Fetch(ctx, source)
	if err != nil {
		return "", err
	}
	return p.canonicalDirFetched(source, dir)
}

func (p *Parser) canonicalDirFetched(source RemoteSource, dir string) (string, error) {
	canonical, err := p.canonicalDir(dir)
	if err != nil {
		return "", &SourceResolutionError{Source: source, Err: err}
	}
	return canonical, nil
}
