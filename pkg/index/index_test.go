// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestEntryPath(t *testing.T) {
	testCases := []struct {
		name     string
		expected string
	}{
		{"a", "1/a"},
		{"ab", "2/ab"},
		{"abc", "3/a/abc"},
		{"abcdef", "ab/cd/abcdef"},
		{"serde", "se/rd/serde"},
		{"Mixed", "mi/xe/mixed"},
	}
	for _, tc := range testCases {
		if actual := EntryPath(tc.name); actual != tc.expected {
			t.Errorf("EntryPath(%q) = %q, want %q", tc.name, actual, tc.expected)
		}
	}
}

func info(name, vers string) CrateInfo {
	return CrateInfo{Name: name, Vers: vers, Deps: []Dependency{}, Features: map[string][]string{}}
}

func TestAppendAndGetExact(t *testing.T) {
	fs := memfs.New()
	idx := New(fs)
	if err := idx.Append(info("foo", "0.1.0"), "aa"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := idx.Append(info("foo", "0.2.0"), "bb"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	meta, err := idx.GetExact("foo", "0.1.0")
	if err != nil {
		t.Fatalf("GetExact: %v", err)
	}
	expected := &Metadata{Name: "foo", Vers: "0.1.0", Deps: []Dependency{}, Cksum: "aa", Features: map[string][]string{}}
	if diff := cmp.Diff(expected, meta); diff != "" {
		t.Errorf("GetExact mismatch (-want +got):\n%s", diff)
	}
	if _, err := idx.GetExact("foo", "9.9.9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExact missing version: got %v, want ErrNotFound", err)
	}
	if _, err := idx.GetExact("bar", "0.1.0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExact missing file: got %v, want ErrNotFound", err)
	}
}

func TestAppendRejectsNonIncreasingVersions(t *testing.T) {
	fs := memfs.New()
	idx := New(fs)
	if err := idx.Append(info("foo", "0.2.0"), "aa"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	for _, vers := range []string{"0.2.0", "0.1.9", "0.2.0-rc.1"} {
		if err := idx.Append(info("foo", vers), "bb"); !errors.Is(err, ErrVersionNotGreater) {
			t.Errorf("Append(%s): got %v, want ErrVersionNotGreater", vers, err)
		}
	}
	// Still exactly one line in the file.
	data, err := util.ReadFile(fs, EntryPath("foo"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 1 {
		t.Errorf("index file has %d lines, want 1", lines)
	}
}

func TestSetYank(t *testing.T) {
	fs := memfs.New()
	idx := New(fs)
	if err := idx.Append(info("foobar", "0.1.0"), "aa"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := idx.Append(info("foobar", "0.2.0"), "bb"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before, err := util.ReadFile(fs, EntryPath("foobar"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := idx.SetYank("foobar", "0.1.0", true); err != nil {
		t.Fatalf("SetYank: %v", err)
	}
	meta, err := idx.GetExact("foobar", "0.1.0")
	if err != nil {
		t.Fatalf("GetExact: %v", err)
	}
	if !meta.Yanked {
		t.Error("version 0.1.0 not yanked")
	}
	if other, _ := idx.GetExact("foobar", "0.2.0"); other.Yanked {
		t.Error("version 0.2.0 unexpectedly yanked")
	}
	// Double yank is refused.
	if err := idx.SetYank("foobar", "0.1.0", true); !errors.Is(err, ErrYankUnchanged) {
		t.Errorf("double yank: got %v, want ErrYankUnchanged", err)
	}
	// Unyank restores the original file byte for byte.
	if err := idx.SetYank("foobar", "0.1.0", false); err != nil {
		t.Fatalf("unyank: %v", err)
	}
	after, err := util.ReadFile(fs, EntryPath("foobar"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(before) != string(after) {
		t.Errorf("yank/unyank round trip changed the file:\nbefore: %s\nafter:  %s", before, after)
	}
	if err := idx.SetYank("foobar", "0.1.0", false); !errors.Is(err, ErrYankUnchanged) {
		t.Errorf("unyank of non-yanked: got %v, want ErrYankUnchanged", err)
	}
}

func TestSetYankRefusesForeignRecord(t *testing.T) {
	fs := memfs.New()
	idx := New(fs)
	// A line as the upstream index writes it: deps under "req", no "links".
	line := `{"name":"foobar","vers":"0.1.0","deps":[{"name":"serde","req":"^1.0","features":[],"optional":false,"default_features":true,"target":null,"kind":"normal"}],"cksum":"aa","features":{},"yanked":false}` + "\n"
	if err := util.WriteFile(fs, EntryPath("foobar"), []byte(line), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := idx.SetYank("foobar", "0.1.0", true); !errors.Is(err, ErrForeignRecord) {
		t.Fatalf("SetYank: got %v, want ErrForeignRecord", err)
	}
	// The file is left untouched.
	data, err := util.ReadFile(fs, EntryPath("foobar"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != line {
		t.Errorf("index file changed:\nbefore: %s\nafter:  %s", line, data)
	}
}

func TestWriteRegistryConfig(t *testing.T) {
	fs := memfs.New()
	idx := New(fs)
	changed, err := idx.WriteRegistryConfig("http://mirror.example:55555")
	if err != nil {
		t.Fatalf("WriteRegistryConfig: %v", err)
	}
	if !changed {
		t.Error("expected first write to report a change")
	}
	data, err := util.ReadFile(fs, "config.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	expected := RegistryConfig{
		DL:  "http://mirror.example:55555/api/v1/crates",
		API: "http://mirror.example:55555",
	}
	if diff := cmp.Diff(expected, cfg); diff != "" {
		t.Errorf("config.json mismatch (-want +got):\n%s", diff)
	}
	// Idempotent when unchanged.
	changed, err = idx.WriteRegistryConfig("http://mirror.example:55555")
	if err != nil {
		t.Fatalf("WriteRegistryConfig: %v", err)
	}
	if changed {
		t.Error("expected unchanged rewrite to report no change")
	}
}

func TestDependencyReqAlias(t *testing.T) {
	var dep Dependency
	if err := json.Unmarshal([]byte(`{"name":"serde","req":"^1.0","features":[],"optional":false,"default_features":true}`), &dep); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if dep.VersionReq != "^1.0" {
		t.Errorf("VersionReq = %q, want %q", dep.VersionReq, "^1.0")
	}
	if err := json.Unmarshal([]byte(`{"name":"serde","version_req":"^2.0"}`), &dep); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if dep.VersionReq != "^2.0" {
		t.Errorf("VersionReq = %q, want %q", dep.VersionReq, "^2.0")
	}
}
