// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"log"
	"net/http"

	"github.com/avalon1610/mirror-registry/pkg/index"
	"github.com/pkg/errors"
)

// Yank marks a published version as discouraged from use.
func (s *Server) Yank(w http.ResponseWriter, r *http.Request) {
	s.setYank(w, r, true)
}

// Unyank clears the yanked flag.
func (s *Server) Unyank(w http.ResponseWriter, r *http.Request) {
	s.setYank(w, r, false)
}

func (s *Server) setYank(w http.ResponseWriter, r *http.Request, yanked bool) {
	if !s.Git.Inited() {
		writeError(w, Ef(KindInvalidRequest, "system not initialized"))
		return
	}
	name, version := r.PathValue("name"), r.PathValue("version")
	verb := "yank"
	if !yanked {
		verb = "unyank"
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()
	account, _, err := s.checkOwner(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.index().SetYank(name, version, yanked); err != nil {
		switch {
		case errors.Is(err, index.ErrYankUnchanged):
			writeError(w, E(KindConflict, err))
		case errors.Is(err, index.ErrNotFound):
			writeError(w, E(KindNotFound, err))
		case errors.Is(err, index.ErrForeignRecord):
			writeError(w, E(KindInvalidRequest, err))
		default:
			writeError(w, err)
		}
		return
	}
	if err := s.Git.Commit(fmt.Sprintf("%s %s-%s", verb, name, version)); err != nil {
		writeError(w, E(KindExternal, err))
		return
	}
	if err := s.Git.SyncIndex(); err != nil {
		writeError(w, E(KindExternal, err))
		return
	}
	log.Printf("%s %sed crate %s-%s", account.Username, verb, name, version)
	writeJSON(w, quickOk{OK: true})
}
