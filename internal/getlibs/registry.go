// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package getlibs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	version "github.com/hashicorp/go-version"
)

// RegistryClient resolves named registry coordinates against a remote
// index document, turning "registry:NAME@CONSTRAINT" declarations into
// concrete remote coordinates that a [Fetcher] can retrieve.
//
// The index is a single JSON document at IndexURL in the following shape:
//
//	{
//	  "libraries": {
//	    "some_lints": [
//	      {"version": "1.2.0", "source": "git::https://example.com/some_lints.git?ref=v1.2.0"}
//	    ]
//	  }
//	}
type RegistryClient struct {
	indexURL   *url.URL
	httpClient *retryablehttp.Client
}

type registryIndex struct {
	Libraries map[string][]registryRelease `json:"libraries"`
}

type registryRelease struct {
	Version string `json:"version"`
	Source  string `json:"source"`
}

// NewRegistryClient constructs a registry client for the index document at
// the given URL.
func NewRegistryClient(indexURL *url.URL) *RegistryClient {
	httpClient := retryablehttp.NewClient()
	httpClient.HTTPClient = cleanhttp.DefaultPooledClient()
	httpClient.RetryMax = 2
	httpClient.Logger = nil

	return &RegistryClient{
		indexURL:   indexURL,
		httpClient: httpClient,
	}
}

// Resolve looks up the given registry coordinate in the index and returns
// the remote coordinate of the newest release whose version satisfies the
// declared constraint.
func (c *RegistryClient) Resolve(ctx context.Context, source RegistrySource) (RemoteSource, error) {
	index, err := c.fetchIndex(ctx)
	if err != nil {
		return "", &SourceResolutionError{Source: source, Err: err}
	}

	releases, ok := index.Libraries[source.Name]
	if !ok {
		return "", &SourceResolutionError{
			Source: source,
			Err:    fmt.Errorf("registry index at %s has no entry named %q", c.indexURL, source.Name),
		}
	}

	var constraint version.Constraints
	if source.Constraint != "" {
		constraint, err = version.NewConstraint(source.Constraint)
		if err != nil {
			return "", &SourceResolutionError{
				Source: source,
				Err:    fmt.Errorf("invalid version constraint %q: %w", source.Constraint, err),
			}
		}
	}

	var bestVersion *version.Version
	var bestSource string
	for _, release := range releases {
		v, err := version.NewVersion(release.Version)
		if err != nil {
			log.Printf("[WARN] getlibs: registry entry %q has unparseable version %q, ignoring", source.Name, release.Version)
			continue
		}
		if constraint != nil && !constraint.Check(v) {
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			bestVersion = v
			bestSource = release.Source
		}
	}

	if bestVersion == nil {
		return "", &SourceResolutionError{
			Source: source,
			Err:    fmt.Errorf("no release of %q satisfies constraint %q", source.Name, source.Constraint),
		}
	}

	log.Printf("[DEBUG] getlibs: registry entry %q resolved to version %s at %s", source.Name, bestVersion, bestSource)
	return RemoteSource(bestSource), nil
}

func (c *RegistryClient) fetchIndex(ctx context.Context) (*registryIndex, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.indexURL.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry index request returned %s", resp.Status)
	}

	var index registryIndex
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		return nil, fmt.Errorf("invalid registry index: %w", err)
	}
	return &index, nil
}
