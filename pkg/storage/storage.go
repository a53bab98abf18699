// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage persists crate tarballs under a deterministic path layout.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
)

// ErrNotExist indicates the artifact is not in the store.
var ErrNotExist = errors.New("crate not in storage")

// Store holds crate artifacts as <name>/<name>-<version>.crate.
type Store struct {
	fs billy.Filesystem
}

func New(fs billy.Filesystem) *Store {
	return &Store{fs: fs}
}

// Path returns the store-relative artifact path for a crate version.
func Path(name, version string) string {
	return path.Join(name, fmt.Sprintf("%s-%s.crate", name, version))
}

// Put writes the full artifact bytes, creating the crate directory if needed.
func (s *Store) Put(name, version string, data []byte) error {
	p := Path(name, version)
	if err := s.fs.MkdirAll(path.Dir(p), 0755); err != nil {
		return errors.Wrap(err, "creating crate directory")
	}
	if err := util.WriteFile(s.fs, p, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", p)
	}
	return nil
}

// Open opens an artifact for reading. A miss is reported as ErrNotExist so
// the caller can fall back to an upstream fetch.
func (s *Store) Open(name, version string) (billy.File, error) {
	f, err := s.fs.Open(Path(name, version))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotExist, "%s-%s", name, version)
	} else if err != nil {
		return nil, errors.Wrapf(err, "opening %s", Path(name, version))
	}
	return f, nil
}

// Checksum returns the lowercase hex SHA-256 of the artifact bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReadAll reads a stored artifact fully.
func (s *Store) ReadAll(name, version string) ([]byte, error) {
	f, err := s.Open(name, version)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", Path(name, version))
	}
	return data, nil
}
