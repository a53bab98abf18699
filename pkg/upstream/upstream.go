// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package upstream provides the client for the upstream crates.io API.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/avalon1610/mirror-registry/internal/httpx"
	"github.com/avalon1610/mirror-registry/pkg/db"
	"github.com/pkg/errors"
)

const userAgent = "mirror-registry (https://github.com/avalon1610/mirror-registry)"

// Meta is the pagination block of a search response.
type Meta struct {
	Total int64 `json:"total"`
}

// SearchResult is the /api/v1/crates search response, both as returned by
// the upstream API and as served to our own clients.
type SearchResult struct {
	Crates []*db.Crate `json:"crates"`
	Meta   Meta        `json:"meta"`
}

// Registry is an upstream crates.io package registry.
type Registry interface {
	Artifact(ctx context.Context, name, version string) ([]byte, error)
	Search(ctx context.Context, q string, perPage, page int64) (*SearchResult, error)
}

// HTTPRegistry is a Registry implementation that uses the upstream HTTP API.
// Base is the upstream root, e.g. https://crates.io.
type HTTPRegistry struct {
	Client httpx.BasicClient
	Base   string
}

// NewHTTPRegistry returns a registry client for base. Certificate
// verification is disabled since corporate gateways frequently resign
// outbound TLS.
func NewHTTPRegistry(base string) *HTTPRegistry {
	return &HTTPRegistry{
		Client: &httpx.WithUserAgent{BasicClient: httpx.InsecureClient(), UserAgent: userAgent},
		Base:   base,
	}
}

func (r *HTTPRegistry) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, errors.Errorf("upstream returned %s", resp.Status)
	}
	return resp, nil
}

// Artifact fetches the crate file bytes for one version.
func (r *HTTPRegistry) Artifact(ctx context.Context, name, version string) ([]byte, error) {
	u := fmt.Sprintf("%s/api/v1/crates/%s/%s/download", r.Base, url.PathEscape(name), url.PathEscape(version))
	resp, err := r.get(ctx, u)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s-%s", name, version)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return b, errors.Wrapf(err, "reading %s-%s", name, version)
}

// Search runs a keyword search against the upstream API.
func (r *HTTPRegistry) Search(ctx context.Context, q string, perPage, page int64) (*SearchResult, error) {
	u := fmt.Sprintf("%s/api/v1/crates?q=%s&per_page=%d&page=%d", r.Base, url.QueryEscape(q), perPage, page)
	resp, err := r.get(ctx, u)
	if err != nil {
		return nil, errors.Wrap(err, "searching upstream")
	}
	defer resp.Body.Close()
	var result SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decoding upstream search result")
	}
	return &result, nil
}

var _ Registry = &HTTPRegistry{}
