// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package index reads and mutates the per-crate NDJSON metadata files that
// make up a crates registry index working tree.
package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/avalon1610/mirror-registry/internal/semver"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound indicates a missing index file or version record.
	ErrNotFound = errors.New("index metadata not found")
	// ErrVersionNotGreater indicates an append that does not strictly
	// increase the crate's version sequence.
	ErrVersionNotGreater = errors.New("version not greater than all published versions")
	// ErrYankUnchanged indicates a yank toggle to the state already recorded.
	ErrYankUnchanged = errors.New("yank state unchanged")
	// ErrForeignRecord indicates a metadata line this registry did not write,
	// whose raw bytes cannot be reproduced from the decoded record.
	ErrForeignRecord = errors.New("index record written elsewhere cannot be rewritten")
)

// EntryPath computes the registry path for a crate name. The layout is part
// of the wire contract: clients derive the same path when resolving crates.
func EntryPath(name string) string {
	name = strings.ToLower(name)
	switch len(name) {
	case 1:
		return path.Join("1", name)
	case 2:
		return path.Join("2", name)
	case 3:
		return path.Join("3", string(name[0]), name)
	default:
		return path.Join(name[:2], name[2:4], name)
	}
}

// Index is the per-crate NDJSON file engine over a registry working tree.
// Writes are not transactional with the filesystem; the caller commits the
// tree afterward.
type Index struct {
	fs billy.Filesystem
}

func New(fs billy.Filesystem) *Index {
	return &Index{fs: fs}
}

// GetExact returns the metadata record for the given crate version.
func (i *Index) GetExact(name, version string) (*Metadata, error) {
	f, err := i.fs.Open(EntryPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "no index file for crate %s", name)
	} else if err != nil {
		return nil, errors.Wrap(err, "opening index file")
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, maxLineSize)
	for scanner.Scan() {
		var meta Metadata
		if err := json.Unmarshal(bytes.TrimSpace(scanner.Bytes()), &meta); err != nil {
			return nil, errors.Wrap(err, "decoding index metadata")
		}
		if meta.Vers == version {
			return &meta, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading index file")
	}
	return nil, errors.Wrapf(ErrNotFound, "crate %s version %s", name, version)
}

// Index lines carry full dependency lists; crates with very large dependency
// graphs have been observed past bufio's default 64KiB limit.
const maxLineSize = 1 << 22

// Append validates version monotonicity and appends a new metadata line for
// the published crate. The record is written with yanked=false.
func (i *Index) Append(info CrateInfo, cksum string) error {
	entry := EntryPath(info.Name)
	existing, err := util.ReadFile(i.fs, entry)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "reading index file")
	}
	for _, line := range strings.Split(string(existing), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal([]byte(line), &meta); err != nil {
			return errors.Wrap(err, "decoding index metadata")
		}
		if semver.Cmp(meta.Vers, info.Vers) >= 0 {
			return errors.Wrapf(ErrVersionNotGreater, "new version %s <= existing %s", info.Vers, meta.Vers)
		}
	}
	if err := i.fs.MkdirAll(path.Dir(entry), 0755); err != nil {
		return errors.Wrap(err, "creating index directory")
	}
	meta := Metadata{
		Name:     info.Name,
		Vers:     info.Vers,
		Deps:     info.Deps,
		Cksum:    cksum,
		Features: info.Features,
		Yanked:   false,
		Links:    info.Links,
	}
	line, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "encoding index metadata")
	}
	updated := append(existing, append(line, '\n')...)
	if err := util.WriteFile(i.fs, entry, updated, 0644); err != nil {
		return errors.Wrap(err, "writing index metadata")
	}
	return nil
}

// SetYank flips the yanked flag on the single matching metadata line. The
// whole file is rewritten with a single-shot replacement so records sharing a
// prefix with the target line are left untouched.
func (i *Index) SetYank(name, version string, yanked bool) error {
	old, err := i.GetExact(name, version)
	if err != nil {
		return err
	}
	if old.Yanked == yanked {
		state := "not yanked"
		if yanked {
			state = "already yanked"
		}
		return errors.Wrapf(ErrYankUnchanged, "%s-%s is %s", name, version, state)
	}
	updated := *old
	updated.Yanked = yanked

	oldLine, err := json.Marshal(old)
	if err != nil {
		return errors.Wrap(err, "encoding old metadata")
	}
	newLine, err := json.Marshal(updated)
	if err != nil {
		return errors.Wrap(err, "encoding new metadata")
	}
	entry := EntryPath(name)
	data, err := util.ReadFile(i.fs, entry)
	if err != nil {
		return errors.Wrap(err, "reading index file")
	}
	// Records synced from upstream don't re-marshal byte for byte (field
	// aliases, key order), so the replacement would silently miss.
	if !bytes.Contains(data, oldLine) {
		return errors.Wrapf(ErrForeignRecord, "%s-%s", name, version)
	}
	data = bytes.Replace(data, oldLine, newLine, 1)
	if err := util.WriteFile(i.fs, entry, data, 0644); err != nil {
		return errors.Wrap(err, "writing index file")
	}
	return nil
}

// WriteRegistryConfig rewrites config.json at the index root to point dl and
// api URLs at this service. It reports whether the content changed so the
// caller can skip an empty commit.
func (i *Index) WriteRegistryConfig(address string) (changed bool, err error) {
	current, err := util.ReadFile(i.fs, "config.json")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, errors.Wrap(err, "reading config.json")
	}
	rendered, err := json.MarshalIndent(RegistryConfig{
		DL:  address + "/api/v1/crates",
		API: address,
	}, "", "  ")
	if err != nil {
		return false, errors.Wrap(err, "encoding config.json")
	}
	if bytes.Equal(current, rendered) {
		return false, nil
	}
	if err := util.WriteFile(i.fs, "config.json", rendered, 0644); err != nil {
		return false, errors.Wrap(err, "writing config.json")
	}
	return true, nil
}
