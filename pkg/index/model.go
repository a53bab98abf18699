// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package index

import "encoding/json"

// CrateInfo is the crate metadata received from cargo publish.
type CrateInfo struct {
	// Name of the package.
	Name string `json:"name"`
	// Version of the package being published.
	Vers string `json:"vers"`
	// Direct dependencies of the package.
	Deps []Dependency `json:"deps"`
	// Features defined for the package. Each feature maps to an array of
	// features or dependencies it enables.
	Features map[string][]string `json:"features"`
	// Authors may be empty. crates.io requires at least one entry.
	Authors       []string `json:"authors"`
	Description   *string  `json:"description"`
	Documentation *string  `json:"documentation"`
	Homepage      *string  `json:"homepage"`
	Readme        *string  `json:"readme"`
	ReadmeFile    *string  `json:"readme_file"`
	Keywords      []string `json:"keywords"`
	Categories    []string `json:"categories"`
	// License may be null. crates.io requires either license or license_file.
	License     *string                      `json:"license"`
	LicenseFile *string                      `json:"license_file"`
	Repository  *string                      `json:"repository"`
	Badges      map[string]map[string]string `json:"badges"`
	// Links is the links value from the package manifest, or null.
	Links *string `json:"links"`
}

// Dependency describes one dependency entry of a published crate.
type Dependency struct {
	// Name of the dependency. If the dependency is renamed from the original
	// package name, this is the original name and the new name is stored in
	// ExplicitNameInToml.
	Name string `json:"name"`
	// VersionReq is the semver requirement for the dependency. Index files
	// emit "version_req"; cargo clients may send "req" instead.
	VersionReq string `json:"version_req"`
	// Features enabled for this dependency.
	Features []string `json:"features"`
	Optional bool     `json:"optional"`
	// DefaultFeatures reports whether default features are enabled.
	DefaultFeatures bool `json:"default_features"`
	// Target platform for the dependency, e.g. "cfg(windows)", or null.
	Target *string `json:"target"`
	// Kind is "dev", "build", or "normal".
	Kind *string `json:"kind"`
	// Registry index URL this dependency comes from; null means the current
	// registry.
	Registry           *string `json:"registry"`
	ExplicitNameInToml *string `json:"explicit_name_in_toml"`
}

func (d *Dependency) UnmarshalJSON(b []byte) error {
	type alias Dependency
	aux := struct {
		*alias
		Req *string `json:"req"`
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if d.VersionReq == "" && aux.Req != nil {
		d.VersionReq = *aux.Req
	}
	return nil
}

// Metadata is one line of a per-crate NDJSON index file.
type Metadata struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []Dependency        `json:"deps"`
	Cksum    string              `json:"cksum"`
	Features map[string][]string `json:"features"`
	Yanked   bool                `json:"yanked"`
	Links    *string             `json:"links"`
}

// RegistryConfig is the config.json at the index root, pointing clients at
// this service for downloads and API calls.
type RegistryConfig struct {
	DL  string `json:"dl"`
	API string `json:"api"`
}
