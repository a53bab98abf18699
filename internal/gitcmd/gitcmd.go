// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitcmd drives the index repositories through the git binary.
// The served bare repo and its working clone are plain on-disk repositories
// so git-http-backend can serve fetches without any translation layer.
package gitcmd

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/avalon1610/mirror-registry/internal/config"
	"github.com/avalon1610/mirror-registry/pkg/index"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
)

// ConvertArgs splits a command line on whitespace, rejoining double-quoted
// spans into single arguments with the quotes kept. An unterminated quote is
// an error.
func ConvertArgs(line string) ([]string, error) {
	var args []string
	var quoted strings.Builder
	inQuote := false
	for _, tok := range strings.Fields(line) {
		if !inQuote && strings.HasPrefix(tok, `"`) {
			quoted.Reset()
			quoted.WriteString(tok)
			inQuote = true
			continue
		}
		if inQuote {
			quoted.WriteByte(' ')
			quoted.WriteString(tok)
			if strings.HasSuffix(tok, `"`) {
				args = append(args, quoted.String())
				inQuote = false
			}
			continue
		}
		args = append(args, tok)
	}
	if inQuote {
		return nil, errors.New("found single quote args, abort")
	}
	return args, nil
}

// Cmd runs git with a working directory.
type Cmd struct {
	Dir string
}

// Run executes one git command line and returns its trimmed stdout. A
// non-zero exit turns stderr into the error.
func (c Cmd) Run(argline string) (string, error) {
	args, err := ConvertArgs(argline)
	if err != nil {
		return "", err
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = c.Dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "git %s: %s", argline, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Driver manages the bare index repo and its working clone. It also carries
// the initialized latch and the busy single-flight flag the admin surface
// exposes.
type Driver struct {
	cfg *config.Handle

	mu     sync.Mutex
	inited bool
	busy   bool
}

// NewDriver returns an uninitialized driver over the live config.
func NewDriver(cfg *config.Handle) *Driver {
	return &Driver{cfg: cfg}
}

// Inited reports whether Initialize has completed since startup.
func (d *Driver) Inited() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inited
}

// Busy reports whether an initialization is in flight.
func (d *Driver) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// TryBusy attempts to claim the busy flag, reporting false when another
// initialization already holds it.
func (d *Driver) TryBusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return false
	}
	d.busy = true
	return true
}

// Done releases the busy flag, latching inited when the run succeeded.
func (d *Driver) Done(succeeded bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = false
	if succeeded {
		d.inited = true
	}
}

// Initialize brings both repositories into serving state: create or reuse
// them, pull the upstream index, point config.json at this mirror, and push
// to the served bare repo. Safe to run on an already-initialized pair.
func (d *Driver) Initialize() error {
	if err := d.initRepo(); err != nil {
		return err
	}
	if err := d.SyncUpstream(); err != nil {
		return err
	}
	if err := d.writeIndexConfig(); err != nil {
		return err
	}
	return d.SyncIndex()
}

// SyncUpstream pulls the upstream index into the working clone. The
// --progress flag keeps the remote from aborting long transfers silently.
func (d *Driver) SyncUpstream() error {
	cfg := d.cfg.Snapshot()
	_, err := Cmd{Dir: cfg.Git.WorkingPath}.Run("pull --progress upstream master")
	return errors.Wrap(err, "sync with upstream failed")
}

// SyncIndex pushes the working clone to the served bare repo.
func (d *Driver) SyncIndex() error {
	cfg := d.cfg.Snapshot()
	_, err := Cmd{Dir: cfg.Git.WorkingPath}.Run("push origin master")
	return errors.Wrap(err, "sync with index failed")
}

// Commit stages everything in the working clone and commits it.
func (d *Driver) Commit(message string) error {
	cfg := d.cfg.Snapshot()
	c := Cmd{Dir: cfg.Git.WorkingPath}
	if _, err := c.Run("add ."); err != nil {
		return err
	}
	_, err := c.Run(fmt.Sprintf("commit -m %q", message))
	return err
}

func (d *Driver) writeIndexConfig() error {
	cfg := d.cfg.Snapshot()
	idx := index.New(osfs.New(cfg.Git.WorkingPath))
	changed, err := idx.WriteRegistryConfig(cfg.Registry.Address)
	if err != nil {
		return err
	}
	if changed {
		return d.Commit("change config.json to mirror")
	}
	return nil
}

func (d *Driver) initRepo() error {
	cfg := d.cfg.Snapshot()
	if err := os.MkdirAll(cfg.Git.IndexPath, 0o755); err != nil {
		return errors.Wrap(err, "creating index path")
	}
	bare := Cmd{Dir: cfg.Git.IndexPath}
	if out, err := bare.Run("rev-parse --is-bare-repository"); err != nil || out != "true" {
		log.Printf("git init --bare for %s", cfg.Git.IndexPath)
		if _, err := bare.Run("init --bare"); err != nil {
			return errors.Wrap(err, "git init --bare failed")
		}
	}

	if err := os.MkdirAll(cfg.Git.WorkingPath, 0o755); err != nil {
		return errors.Wrap(err, "creating working path")
	}
	work := Cmd{Dir: cfg.Git.WorkingPath}
	if out, err := work.Run("rev-parse --is-inside-work-tree"); err == nil && out == "true" {
		return nil
	}
	log.Printf("git clone for %s", cfg.Git.WorkingPath)
	parent := filepath.Dir(cfg.Git.WorkingPath)
	clone := fmt.Sprintf("clone %s %s", cfg.Git.IndexPath, filepath.Base(cfg.Git.WorkingPath))
	if _, err := (Cmd{Dir: parent}).Run(clone); err != nil {
		return errors.Wrap(err, "git clone failed")
	}
	if _, err := work.Run("remote add upstream " + cfg.Git.UpstreamURL); err != nil {
		return errors.Wrap(err, "git add remote failed")
	}
	// Upstream pulls merge; without this newer git refuses once the clone
	// diverges by the local config.json commit.
	if _, err := work.Run("config pull.rebase false"); err != nil {
		return errors.Wrap(err, "git config failed")
	}
	return nil
}

// FindHTTPBackend locates the git-http-backend helper next to the git
// binary. Service startup fails without it.
func FindHTTPBackend() (string, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return "", errors.Wrap(err, "git not found, you need install git first")
	}
	for _, candidate := range backendCandidates(gitPath) {
		if _, err := os.Stat(candidate); err == nil {
			log.Printf("git-http-backend path: %s", candidate)
			return candidate, nil
		}
	}
	return "", errors.Errorf("can not find git-http-backend near %s, upgrade your git", gitPath)
}

func backendCandidates(gitPath string) []string {
	var out []string
	for _, libdir := range []string{"lib", "libexec"} {
		base := strings.Replace(gitPath, "bin/git", libdir, 1)
		out = append(out, filepath.Join(base, "git-core", "git-http-backend"))
	}
	return out
}
