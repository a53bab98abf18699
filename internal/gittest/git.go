// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package gittest builds throwaway index repositories for tests. Histories
// are declared in YAML, one commit per step, so a test can stand up an
// "upstream" crates index without shelling out to git.
package gittest

import (
	"bytes"
	"encoding/json"
	"io"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/avalon1610/mirror-registry/pkg/index"
)

type FileContent map[string]string

// Commit is one step of a declared history.
type Commit struct {
	ID      string      `yaml:"id"`
	Message string      `yaml:"message"`
	Parent  string      `yaml:"parent,omitempty"`
	Branch  string      `yaml:"branch,omitempty"`
	Files   FileContent `yaml:"files"`
}

type History struct {
	Commits []Commit `yaml:"commits"`
}

// Repository is the built repo plus a commit-ID lookup for assertions.
type Repository struct {
	*git.Repository
	Commits map[string]plumbing.Hash
}

type Options struct {
	Storer   storage.Storer
	Worktree billy.Filesystem
}

// CrateLines renders index metadata as the NDJSON an entry file holds.
func CrateLines(metas ...index.Metadata) string {
	var b strings.Builder
	for _, m := range metas {
		line, err := json.Marshal(m)
		if err != nil {
			panic(err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// IndexCommit builds a commit placing each crate's versions at its entry
// path, the way the real index lays files out.
func IndexCommit(id, message string, crates map[string][]index.Metadata) Commit {
	files := FileContent{}
	for name, metas := range crates {
		files[index.EntryPath(name)] = CrateLines(metas...)
	}
	return Commit{ID: id, Message: message, Files: files}
}

// CreateRepoFromYAML parses a history and builds it in memory (or in the
// given options). Unknown YAML fields are an error.
func CreateRepoFromYAML(content string, opts *Options) (*Repository, error) {
	var history History
	d := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	d.KnownFields(true)
	if err := d.Decode(&history); err != nil {
		return nil, err
	}
	return CreateRepo(history.Commits, opts)
}

// CreateRepo replays the commits onto a fresh repository.
func CreateRepo(commits []Commit, opts *Options) (*Repository, error) {
	var s storage.Storer = memory.NewStorage()
	var wfs billy.Filesystem = memfs.New()
	if opts != nil && opts.Storer != nil {
		s = opts.Storer
	}
	if opts != nil && opts.Worktree != nil {
		wfs = opts.Worktree
	}
	var repo Repository
	var err error
	repo.Repository, err = git.Init(s, wfs)
	if err != nil {
		return nil, errors.Wrap(err, "initializing repo")
	}
	w, err := repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, "accessing worktree")
	}
	repo.Commits = make(map[string]plumbing.Hash)

	for _, c := range commits {
		if err := writeFiles(w, c.Files); err != nil {
			return nil, errors.Wrap(err, "creating files")
		}
		var parents []plumbing.Hash
		if c.Parent != "" {
			parents = append(parents, repo.Commits[c.Parent])
		}
		hash, err := w.Commit(c.Message, &git.CommitOptions{
			Author:            &object.Signature{Name: "mirror"},
			AllowEmptyCommits: true,
			Parents:           parents,
		})
		if err != nil {
			return nil, errors.Wrap(err, "committing")
		}
		repo.Commits[c.ID] = hash

		if c.Branch != "" {
			if _, err := repo.Branch(c.Branch); err == git.ErrBranchNotFound {
				if err := repo.CreateBranch(&gitconfig.Branch{Name: c.Branch}); err != nil {
					return nil, errors.Wrap(err, "creating branch")
				}
			} else if err != nil {
				return nil, errors.Wrap(err, "getting branch")
			}
			ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(c.Branch), hash)
			if err := repo.Storer.SetReference(ref); err != nil {
				return nil, errors.Wrap(err, "setting branch")
			}
		}
	}
	return &repo, nil
}

// CreateUpstreamIndex builds the history on disk at dir so an external git
// process can clone or pull from it. The worktree and .git both live under
// dir, history ends up on master.
func CreateUpstreamIndex(dir, content string) (*Repository, error) {
	dot := osfs.New(path.Join(dir, ".git"))
	wt := osfs.New(dir)
	return CreateRepoFromYAML(content, &Options{
		Storer:   filesystem.NewStorage(dot, cache.NewObjectLRUDefault()),
		Worktree: wt,
	})
}

func writeFiles(w *git.Worktree, files FileContent) error {
	for name, content := range files {
		if err := w.Filesystem.MkdirAll(path.Dir(name), 0o755); err != nil {
			return err
		}
		f, err := w.Filesystem.Create(name)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(f, content); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if _, err := w.Add(name); err != nil {
			return err
		}
	}
	return nil
}
