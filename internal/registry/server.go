// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the crates API: publish, download, search,
// yank, and ownership.
package registry

import (
	"net/http"
	"sync"

	"github.com/avalon1610/mirror-registry/internal/auth"
	"github.com/avalon1610/mirror-registry/internal/config"
	"github.com/avalon1610/mirror-registry/pkg/db"
	"github.com/avalon1610/mirror-registry/pkg/index"
	"github.com/avalon1610/mirror-registry/pkg/storage"
	"github.com/avalon1610/mirror-registry/pkg/upstream"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
)

// GitDriver is the slice of the git driver the API needs.
type GitDriver interface {
	Inited() bool
	Commit(message string) error
	SyncIndex() error
}

// Server carries the collaborators the crates handlers share. Mu serializes
// database access and is held across the git commit/push of a mutation, so
// publishes, yanks, and owner changes execute one at a time.
type Server struct {
	Cfg      *config.Handle
	DB       *db.DB
	Mu       *sync.Mutex
	Git      GitDriver
	Upstream upstream.Registry
	Auth     *auth.Service
}

// Register installs the crates API routes.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/crates", s.Search)
	mux.HandleFunc("PUT /api/v1/crates/new", s.Publish)
	mux.HandleFunc("GET /api/v1/crates/{name}/{version}/download", s.Download)
	mux.HandleFunc("DELETE /api/v1/crates/{name}/{version}/yank", s.Yank)
	mux.HandleFunc("PUT /api/v1/crates/{name}/{version}/unyank", s.Unyank)
	mux.HandleFunc("GET /api/v1/crates/{name}/owners", s.ListOwners)
	mux.HandleFunc("PUT /api/v1/crates/{name}/owners", s.AddOwners)
	mux.HandleFunc("DELETE /api/v1/crates/{name}/owners", s.RemoveOwners)
}

// index returns the engine over the current working tree.
func (s *Server) index() *index.Index {
	var path string
	s.Cfg.View(func(c *config.Config) { path = c.Git.WorkingPath })
	return index.New(osfs.New(path))
}

// store returns the content store over the current storage path.
func (s *Server) store() *storage.Store {
	var path string
	s.Cfg.View(func(c *config.Config) { path = c.Crates.StoragePath })
	return storage.New(osfs.New(path))
}

// checkOwner resolves the request token and verifies it owns name. It
// returns the account and the current owner list. Rows cached from upstream
// have no owners and cannot be modified. Callers must hold s.Mu.
func (s *Server) checkOwner(r *http.Request, name string) (*db.Account, []string, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return nil, nil, Ef(KindUnauthorized, "need token for authorization")
	}
	account, err := s.DB.GetAccountByToken(token)
	if errors.Is(err, db.ErrNoRow) {
		return nil, nil, E(KindUnauthorized, err)
	} else if err != nil {
		return nil, nil, err
	}
	c, err := s.DB.GetCrate(name)
	if errors.Is(err, db.ErrNoRow) {
		return nil, nil, E(KindNotFound, err)
	} else if err != nil {
		return nil, nil, err
	}
	owners, err := ownersOf(account, c)
	if err != nil {
		return nil, nil, err
	}
	return account, owners, nil
}

func ownersOf(account *db.Account, c *db.Crate) ([]string, error) {
	owners := c.OwnerList()
	if owners == nil {
		return nil, Ef(KindForbidden, "no owner found, this is an upstream crate, can not be modified")
	}
	for _, o := range owners {
		if o == account.Username {
			return owners, nil
		}
	}
	return nil, Ef(KindForbidden, "%s not in the owners of %s", account.Username, c.Name)
}
