// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"fmt"
	"testing"

	"github.com/avalon1610/mirror-registry/pkg/index"
	"github.com/pkg/errors"
)

func open(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func strptr(s string) *string { return &s }

func publish(t *testing.T, d *DB, name, vers, user string) {
	t.Helper()
	info := index.CrateInfo{Name: name, Vers: vers, Description: strptr(name + " crate")}
	if err := d.UpsertOnPublish(info, user); err != nil {
		t.Fatalf("UpsertOnPublish(%s-%s): %v", name, vers, err)
	}
}

func TestUpsertOnPublish(t *testing.T) {
	d := open(t)
	publish(t, d, "foo", "0.1.0", "alice")
	c, err := d.GetCrate("foo")
	if err != nil {
		t.Fatalf("GetCrate: %v", err)
	}
	if c.MaxVersion != "0.1.0" || c.NewestVersion != "0.1.0" {
		t.Errorf("versions = %s/%s, want 0.1.0/0.1.0", c.MaxVersion, c.NewestVersion)
	}
	if c.MaxStableVersion == nil || *c.MaxStableVersion != "0.1.0" {
		t.Errorf("max_stable_version = %v, want 0.1.0", c.MaxStableVersion)
	}
	if got := c.OwnerList(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("owners = %v, want [alice]", got)
	}

	// A prerelease republish bumps max/newest but not max_stable.
	publish(t, d, "foo", "0.2.0-rc.1", "alice")
	c, _ = d.GetCrate("foo")
	if c.MaxVersion != "0.2.0-rc.1" {
		t.Errorf("max_version = %s, want 0.2.0-rc.1", c.MaxVersion)
	}
	if c.MaxStableVersion == nil || *c.MaxStableVersion != "0.1.0" {
		t.Errorf("max_stable_version = %v, want 0.1.0", c.MaxStableVersion)
	}
	// Owners and created_at survive republish.
	if got := c.OwnerList(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("owners after republish = %v, want [alice]", got)
	}

	publish(t, d, "foo", "0.2.0", "alice")
	c, _ = d.GetCrate("foo")
	if c.MaxStableVersion == nil || *c.MaxStableVersion != "0.2.0" {
		t.Errorf("max_stable_version = %v, want 0.2.0", c.MaxStableVersion)
	}
}

func TestSearchCrates(t *testing.T) {
	d := open(t)
	publish(t, d, "tokio", "1.0.0", "alice")
	publish(t, d, "tokio-util", "0.7.0", "alice")
	publish(t, d, "mio", "0.8.0", "alice")

	crates, total, err := d.SearchCrates("tokio", 10, 1)
	if err != nil {
		t.Fatalf("SearchCrates: %v", err)
	}
	if total != 2 || len(crates) != 2 {
		t.Fatalf("got %d crates (total %d), want 2", len(crates), total)
	}
	// Shortest name first.
	if crates[0].Name != "tokio" || crates[1].Name != "tokio-util" {
		t.Errorf("order = %s, %s; want tokio, tokio-util", crates[0].Name, crates[1].Name)
	}

	// Description matches too.
	if _, total, _ := d.SearchCrates("mio crate", 10, 1); total != 1 {
		t.Errorf("description search total = %d, want 1", total)
	}
}

func TestSearchPagination(t *testing.T) {
	d := open(t)
	for i := 0; i < 15; i++ {
		publish(t, d, fmt.Sprintf("crate-%02d", i), "1.0.0", "alice")
	}
	crates, total, err := d.SearchCrates("crate-", 10, 2)
	if err != nil {
		t.Fatalf("SearchCrates: %v", err)
	}
	if total != 15 {
		t.Errorf("total = %d, want 15", total)
	}
	if len(crates) != 5 {
		t.Errorf("page 2 size = %d, want 5", len(crates))
	}
	// page < 1 is clamped to the first page.
	crates, _, err = d.SearchCrates("crate-", 10, 0)
	if err != nil {
		t.Fatalf("SearchCrates: %v", err)
	}
	if len(crates) != 10 {
		t.Errorf("clamped page size = %d, want 10", len(crates))
	}
}

func TestReplaceCrates(t *testing.T) {
	d := open(t)
	rows := []*Crate{{Name: "serde", UpdatedAt: "now", CreatedAt: "now", MaxVersion: "1.0.0", NewestVersion: "1.0.0"}}
	if err := d.ReplaceCrates(rows); err != nil {
		t.Fatalf("ReplaceCrates: %v", err)
	}
	c, err := d.GetCrate("serde")
	if err != nil {
		t.Fatalf("GetCrate: %v", err)
	}
	if c.Owners != nil {
		t.Errorf("upstream row owners = %v, want nil", *c.Owners)
	}
	// Replacing again does not duplicate.
	if err := d.ReplaceCrates(rows); err != nil {
		t.Fatalf("ReplaceCrates: %v", err)
	}
	if _, total, _ := d.SearchCrates("serde", 10, 1); total != 1 {
		t.Errorf("total after double replace = %d, want 1", total)
	}
}

func account(name, token string) *Account {
	tk := token
	return &Account{
		Username:    name,
		DisplayName: name,
		Salt:        "0123456789abcdef0123456789abcdef",
		Type:        TypeInternal,
		Role:        RoleUser,
		Password:    "hash",
		Token:       &tk,
	}
}

func TestAccounts(t *testing.T) {
	d := open(t)
	if err := d.CreateAccount(account("alice", "tok-alice")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := d.CreateAccount(account("alice", "tok-2")); err == nil {
		t.Error("duplicate CreateAccount expected to fail")
	}
	a, err := d.GetAccountByToken("tok-alice")
	if err != nil {
		t.Fatalf("GetAccountByToken: %v", err)
	}
	if a.Username != "alice" {
		t.Errorf("username = %s, want alice", a.Username)
	}
	if _, err := d.GetAccountByToken("bogus"); !errors.Is(err, ErrNoRow) {
		t.Errorf("bogus token: got %v, want ErrNoRow", err)
	}
	if _, err := d.RootAccount(); !errors.Is(err, ErrNoRow) {
		t.Errorf("RootAccount on fresh db: got %v, want ErrNoRow", err)
	}
}

func TestOwnerMutations(t *testing.T) {
	d := open(t)
	for _, u := range []string{"alice", "bob"} {
		if err := d.CreateAccount(account(u, "tok-"+u)); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
	}
	publish(t, d, "foo", "0.1.0", "alice")

	if err := d.AddOwner("foo", []string{"alice"}, []string{"mallory"}); err == nil {
		t.Error("AddOwner with unknown user expected to fail")
	}
	if err := d.AddOwner("foo", []string{"alice"}, []string{"alice"}); err == nil {
		t.Error("AddOwner with existing owner expected to fail")
	}
	if err := d.AddOwner("foo", []string{"alice"}, []string{"bob"}); err != nil {
		t.Fatalf("AddOwner: %v", err)
	}
	c, _ := d.GetCrate("foo")
	if got := c.OwnerList(); len(got) != 2 {
		t.Fatalf("owners = %v, want 2 entries", got)
	}
	if err := d.RemoveOwner("foo", []string{"alice", "bob"}, []string{"mallory"}); err == nil {
		t.Error("RemoveOwner of non-owner expected to fail")
	}
	if err := d.RemoveOwner("foo", []string{"alice", "bob"}, []string{"alice"}); err != nil {
		t.Fatalf("RemoveOwner: %v", err)
	}
	c, _ = d.GetCrate("foo")
	if got := c.OwnerList(); len(got) != 1 || got[0] != "bob" {
		t.Errorf("owners = %v, want [bob]", got)
	}
}
