// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package db

import "strings"

// Crate is one row of the crates table. The JSON tags match the upstream
// search API so rows can be materialized straight from an upstream response;
// such rows carry Owners == nil and are immutable to local clients.
type Crate struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	UpdatedAt        string  `json:"updated_at"`
	Versions         *string `json:"versions"`
	Keywords         *string `json:"-"`
	Categories       *string `json:"-"`
	CreatedAt        string  `json:"created_at"`
	Downloads        int64   `json:"downloads"`
	RecentDownloads  int64   `json:"recent_downloads"`
	MaxVersion       string  `json:"max_version"`
	NewestVersion    string  `json:"newest_version"`
	MaxStableVersion *string `json:"max_stable_version"`
	Description      *string `json:"description"`
	Homepage         *string `json:"homepage"`
	Documentation    *string `json:"documentation"`
	Repository       *string `json:"repository"`
	Owners           *string `json:"-"`
}

// OwnerList explodes the comma-joined owners column. A nil return means the
// row was cached from upstream and has no local owners.
func (c *Crate) OwnerList() []string {
	if c.Owners == nil {
		return nil
	}
	return strings.Split(*c.Owners, ",")
}

// Account is one row of the accounts table.
type Account struct {
	ID          int64
	Username    string
	DisplayName string
	Salt        string
	Email       *string
	Type        string
	Role        string
	Password    string
	LastLogin   *string
	Token       *string
}

// Account types and roles, stored as their display strings.
const (
	TypeInternal = "Internal"
	TypeLdap     = "Ldap"

	RoleRoot  = "Root"
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// IsAdmin reports whether the account can administer the registry.
func (a *Account) IsAdmin() bool {
	return a.Role != RoleUser
}
