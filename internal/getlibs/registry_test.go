// Copyright (c) The Dynalint Authors
// SPDX-License-Identifier: MPL-2.0

package getlibs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

const testIndex = `{
  "libraries": {
    "clippy_extras": [
      {"version": "1.0.0", "source": "git::https://example.com/extras.git?ref=v1.0.0"},
      {"version": "1.2.0", "source": "git::https://example.com/extras.git?ref=v1.2.0"},
      {"version": "2.0.0", "source": "git::https://example.com/extras.git?ref=v2.0.0"},
      {"version": "not-a-version", "source": "git::https://example.com/junk.git"}
    ]
  }
}`

func testRegistryClient(t *testing.T) (*RegistryClient, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(testIndex))
	}))
	indexURL, err := url.Parse(server.URL + "/index.json")
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistryClient(indexURL), server.Close
}

func TestRegistryResolve(t *testing.T) {
	client, done := testRegistryClient(t)
	defer done()

	tests := []struct {
		source RegistrySource
		want   RemoteSource
	}{
		// No constraint selects the newest parseable release.
		{RegistrySource{Name: "clippy_extras"}, "git::https://example.com/extras.git?ref=v2.0.0"},
		// Constraints narrow the selection.
		{RegistrySource{Name: "clippy_extras", Constraint: "~> 1.0"}, "git::https://example.com/extras.git?ref=v1.2.0"},
		{RegistrySource{Name: "clippy_extras", Constraint: "= 1.0.0"}, "git::https://example.com/extras.git?ref=v1.0.0"},
	}

	for _, test := range tests {
		t.Run(test.source.String(), func(t *testing.T) {
			got, err := client.Resolve(context.Background(), test.source)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got != test.want {
				t.Errorf("got %s, want %s", got, test.want)
			}
		})
	}
}

func TestRegistryResolve_errors(t *testing.T) {
	client, done := testRegistryClient(t)
	defer done()

	tests := []RegistrySource{
		{Name: "no_such_library"},
		{Name: "clippy_extras", Constraint: "> 9.0"},
		{Name: "clippy_extras", Constraint: "wild nonsense"},
	}

	for _, source := range tests {
		t.Run(source.String(), func(t *testing.T) {
			_, err := client.Resolve(context.Background(), source)
			var srcErr *SourceResolutionError
			if !errors.As(err, &srcErr) {
				t.Fatalf("expected SourceResolutionError, got %v", err)
			}
		})
	}
}
