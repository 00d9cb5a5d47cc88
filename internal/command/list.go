// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/dynalint/dynalint/internal/getlibs"
	"github.com/dynalint/dynalint/internal/libcache"
	"github.com/dynalint/dynalint/internal/toolchains"
)

// ListCommand resolves library sources and prints the lints they would
// contribute, without building anything.
type ListCommand struct {
	Meta
}

func (c *ListCommand) Help() string {
	helpText := `
Usage: dynalint list [options] [SOURCE ...]

  Resolves the given library sources (and the libraries table in
  dynalint.toml, if present) and lists each library with its required
  toolchain and the lints it declares. Nothing is built.

Options:

  -cache-dir=dir        Override the cache directory.

  -registry=url         Registry index URL for registry: sources.

  -no-color             Disable colored output.
`
	return strings.TrimSpace(helpText)
}

func (c *ListCommand) Synopsis() string {
	return "List lint libraries and the lints they declare"
}

func (c *ListCommand) Run(args []string) int {
	var cacheDir, registry string
	var noColor bool

	flags := flag.NewFlagSet("list", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Error(c.Help()) }
	flags.StringVar(&cacheDir, "cache-dir", "", "cache directory")
	flags.StringVar(&registry, "registry", "", "registry index URL")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	if err := flags.Parse(args); err != nil {
		return ExitFailure
	}
	c.Meta.noColor = noColor

	config, err := LoadConfig(c.WorkingDir)
	if err != nil {
		c.showError(err)
		return ExitFailure
	}
	if cacheDir != "" {
		config.CacheDir = cacheDir
	}
	if registry != "" {
		config.Registry = registry
	}

	sources := declaredSources(config, flags.Args())
	if len(sources) == 0 {
		c.Ui.Error("No lint libraries were specified. Give library sources as arguments\nor declare them in dynalint.toml.")
		return ExitSpecification
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := libcache.OpenStore(config.CacheDir)
	if err != nil {
		c.showError(err)
		return ExitFailure
	}
	parser := &getlibs.Parser{
		WorkspaceDir: c.WorkingDir,
		Fetcher:      &getlibs.Fetcher{CheckoutsDir: store.CheckoutsDir()},
	}
	if config.Registry != "" {
		parser.Registry, err = registryClient(config.Registry)
		if err != nil {
			c.showError(err)
			return ExitFailure
		}
	}

	specs, warnings, err := parser.Resolve(ctx, sources)
	if err != nil {
		c.showError(err)
		return exitStatus(err)
	}
	for _, warning := range warnings {
		c.Ui.Warn(c.Colorize().Color("[yellow]Warning:[reset] " + warning.Error()))
	}

	resolver := &toolchains.Resolver{
		Manager:          &toolchains.CLIManager{Command: config.Commands.Toolchain},
		NoActiveFallback: config.NoActiveFallback,
	}

	colorize := c.Colorize()
	for _, spec := range specs {
		toolchain, err := resolver.RequiredToolchain(ctx, spec)
		if err != nil {
			toolchain = "(undetermined)"
		}
		c.Ui.Output(colorize.Color(fmt.Sprintf("[bold]%s[reset] (toolchain %s)", spec.DisplayName(), toolchain)))
		for _, lint := range spec.Metadata.Lints {
			c.Ui.Output("    " + lint)
		}
	}
	return ExitOK
}
