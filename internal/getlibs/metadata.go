// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package getlibs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// MetadataFilename is the name of the manifest file that every lint
// library must carry at the root of its source tree.
//
// dynalint never loads a library's code itself; the manifest is the only
// channel through which a library declares its identity before being
// handed to a driver.
const MetadataFilename = "lintlib.toml"

// Metadata is the parsed form of a library's manifest file.
type Metadata struct {
	// Name is the library's own name, used only for display. If empty,
	// the base name of the source directory is used instead.
	Name string `toml:"name"`

	// Lints are the names of the lints the library's plugin registers.
	// Each name must be unique across all libraries in a run.
	Lints []string `toml:"lints"`

	// Toolchain optionally declares the exact toolchain release the
	// library must be built with. When present it takes precedence over
	// any pinned toolchain file in the source tree.
	Toolchain string `toml:"toolchain"`
}

// LoadMetadata reads and validates the manifest file from the root of the
// given library source directory.
func LoadMetadata(dir string) (*Metadata, error) {
	path := filepath.Join(dir, MetadataFilename)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory does not contain a %s manifest, so it is not a lint library", MetadataFilename)
		}
		return nil, err
	}

	var meta Metadata
	if err := toml.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", MetadataFilename, err)
	}

	if len(meta.Lints) == 0 {
		return nil, fmt.Errorf("%s declares no lints", MetadataFilename)
	}
	seen := make(map[string]struct{}, len(meta.Lints))
	for _, lint := range meta.Lints {
		if lint == "" {
			return nil, fmt.Errorf("%s declares an empty lint name", MetadataFilename)
		}
		if _, dup := seen[lint]; dup {
			return nil, fmt.Errorf("%s declares lint %q more than once", MetadataFilename, lint)
		}
		seen[lint] = struct{}{}
	}

	if meta.Name == "" {
		meta.Name = filepath.Base(dir)
	}
	sort.Strings(meta.Lints)

	return &meta, nil
}
