// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/dynalint/dynalint/internal/drivers"
	"github.com/dynalint/dynalint/internal/getlibs"
	"github.com/dynalint/dynalint/internal/libcache"
	"github.com/dynalint/dynalint/internal/runner"
	"github.com/dynalint/dynalint/internal/toolchains"
)

// RunCommand builds the declared lint libraries and runs them against the
// target project.
type RunCommand struct {
	Meta
}

func (c *RunCommand) Help() string {
	helpText := `
Usage: dynalint run [options] [SOURCE ...] [-- BUILD ARGS]

  Builds the lint libraries declared by the given sources (and by the
  libraries table in dynalint.toml, if present) and runs them against
  the project in the target directory.

  A source is a local path, a glob pattern, a remote coordinate, or
  "registry:NAME@CONSTRAINT". Arguments after "--" are passed through
  to the analysis driver unchanged.

Options:

  -target=dir           Project directory to analyze. Defaults to the
                        current directory.

  -profile=name         Build profile for libraries, "debug" or
                        "release". Defaults to debug.

  -auto-install         Install required toolchain releases that aren't
                        installed yet.

  -allow-downgrade      Permit reusing a cached driver built for the
                        nearest compatible older numbered release.

  -no-active-fallback   Refuse to fall back to the active toolchain for
                        libraries that declare no requirement.

  -no-strict            Report lint findings without failing the run's
                        exit status.

  -parallelism=n        Limit concurrent library builds. Defaults to
                        one per CPU.

  -cache-dir=dir        Override the cache directory.

  -registry=url         Registry index URL for registry: sources.

  -no-color             Disable colored output.
`
	return strings.TrimSpace(helpText)
}

func (c *RunCommand) Synopsis() string {
	return "Build lint libraries and run them against a project"
}

func (c *RunCommand) Run(rawArgs []string) int {
	args, passThrough := splitPassThrough(rawArgs)

	var targetDir, profileName, cacheDir, registry string
	var autoInstall, allowDowngrade, noActiveFallback, noStrict, noColor bool
	var parallelism int

	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Error(c.Help()) }
	flags.StringVar(&targetDir, "target", "", "target project directory")
	flags.StringVar(&profileName, "profile", "", "build profile")
	flags.BoolVar(&autoInstall, "auto-install", false, "install missing toolchains")
	flags.BoolVar(&allowDowngrade, "allow-downgrade", false, "permit driver downgrade")
	flags.BoolVar(&noActiveFallback, "no-active-fallback", false, "disable active toolchain fallback")
	flags.BoolVar(&noStrict, "no-strict", false, "do not fail on lint findings")
	flags.IntVar(&parallelism, "parallelism", 0, "concurrent build limit")
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

	// Flags that were set explicitly win over the configuration file.
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "profile":
			config.Profile = profileName
		case "auto-install":
			config.AutoInstallToolchains = autoInstall
		case "allow-downgrade":
			config.AllowDowngrade = allowDowngrade
		case "no-active-fallback":
			config.NoActiveFallback = noActiveFallback
		case "no-strict":
			config.Strict = !noStrict
		case "parallelism":
			config.Parallelism = parallelism
		case "cache-dir":
			config.CacheDir = cacheDir
		case "registry":
			config.Registry = registry
		}
	})

	profile, err := libcache.ParseProfile(config.Profile)
	if err != nil {
		c.showError(err)
		return ExitSpecification
	}

	sources := declaredSources(config, flags.Args())
	if len(sources) == 0 {
		c.Ui.Error("No lint libraries were specified. Give library sources as arguments\nor declare them in dynalint.toml.")
		return ExitSpecification
	}

	if targetDir == "" {
		targetDir = c.WorkingDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	run, err := c.newRunner(config)
	if err != nil {
		c.showError(err)
		return ExitFailure
	}

	result, err := run.Run(ctx, runner.Request{
		Sources:     sources,
		TargetDir:   targetDir,
		PassThrough: passThrough,
		Profile:     profile,
	})
	if err != nil {
		c.showError(err)
		return exitStatus(err)
	}

	return c.showResult(result, config.Strict)
}

// newRunner wires the pipeline against the real subprocess-backed
// collaborators described by the configuration.
func (c *RunCommand) newRunner(config *Config) (*runner.Runner, error) {
	store, err := libcache.OpenStore(config.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("cannot open cache at %s: %w", config.CacheDir, err)
	}

	parser := &getlibs.Parser{
		WorkspaceDir: c.WorkingDir,
		Fetcher:      &getlibs.Fetcher{CheckoutsDir: store.CheckoutsDir()},
	}
	if config.Registry != "" {
		parser.Registry, err = registryClient(config.Registry)
		if err != nil {
			return nil, err
		}
	}

	var provisioner runner.DriverProvisioner
	if path := os.Getenv(EnvDriverPath); path != "" {
		log.Printf("[WARN] command: using driver override %s for all toolchains", path)
		provisioner = &fixedDriver{path: path}
	} else {
		provisioner = &drivers.Provisioner{
			Store:          store,
			Builder:        &drivers.CommandBuilder{Command: config.Commands.Build},
			AllowDowngrade: config.AllowDowngrade,
		}
	}

	return &runner.Runner{
		Parser: parser,
		Resolver: &toolchains.Resolver{
			Manager:          &toolchains.CLIManager{Command: config.Commands.Toolchain},
			AutoInstall:      config.AutoInstallToolchains,
			NoActiveFallback: config.NoActiveFallback,
		},
		Store:          store,
		LibraryBuilder: &libcache.CommandBuilder{Command: config.Commands.Build},
		Drivers:        provisioner,
		Executor:       &runner.CommandExecutor{},
		Parallelism:    config.Parallelism,
	}, nil
}

// showResult prints the per-group outcomes and maps them to an exit
// status. Group errors always fail the run; lint findings fail it only
// under the strict policy.
func (c *RunCommand) showResult(result *runner.Result, strict bool) int {
	colorize := c.Colorize()

	for _, group := range result.Groups {
		switch {
		case group.Err != nil:
			c.Ui.Error(colorize.Color(fmt.Sprintf("[red]toolchain %s failed:[reset] %s",
				group.Toolchain, group.Err)))
		case group.LintFindings:
			c.Ui.Output(colorize.Color(fmt.Sprintf("[yellow]toolchain %s: lints reported findings[reset] (%s)",
				group.Toolchain, strings.Join(group.Libraries, ", "))))
		default:
			c.Ui.Output(colorize.Color(fmt.Sprintf("[green]toolchain %s: ok[reset] (%s)",
				group.Toolchain, strings.Join(group.Libraries, ", "))))
		}
	}

	if err := result.GroupErr(); err != nil {
		return exitStatus(err)
	}
	if result.LintFindings() && strict {
		return ExitFailure
	}
	return ExitOK
}

// declaredSources merges configuration-declared libraries with the ones
// given on the command line, configuration first.
func declaredSources(config *Config, args []string) []getlibs.DeclaredSource {
	var sources []getlibs.DeclaredSource
	for _, lib := range config.Libraries {
		sources = append(sources, getlibs.DeclaredSource{
			Addr:    lib.Source,
			Options: getlibs.Options{Toolchain: lib.Toolchain},
		})
	}
	for _, arg := range args {
		sources = append(sources, getlibs.DeclaredSource{Addr: arg})
	}
	return sources
}

// splitPassThrough separates our own arguments from the ones after a
// bare "--", which belong to the driver.
func splitPassThrough(args []string) (own, passThrough []string) {
	for i, arg := range args {
		if arg == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

func registryClient(rawURL string) (*getlibs.RegistryClient, error) {
	indexURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL %q: %w", rawURL, err)
	}
	return getlibs.NewRegistryClient(indexURL), nil
}

// fixedDriver satisfies every provisioning request with one prebuilt
// binary, for harness development via DYNALINT_DRIVER_PATH.
type fixedDriver struct {
	path string
}

func (d *fixedDriver) Ensure(ctx context.Context, toolchain string) (*drivers.Driver, error) {
	if _, err := os.Stat(d.path); err != nil {
		return nil, fmt.Errorf("driver override %s: %w", d.path, err)
	}
	return &drivers.Driver{Toolchain: toolchain, Path: d.path}, nil
}
