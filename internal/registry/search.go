// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"log"
	"net/http"
	"strconv"

	"github.com/avalon1610/mirror-registry/pkg/db"
	"github.com/avalon1610/mirror-registry/pkg/upstream"
)

// Search answers keyword queries from the local DB, falling back to the
// upstream API when nothing matches the keyword exactly. Upstream rows are
// ingested so the next query is local.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	perPage, _ := strconv.ParseInt(r.URL.Query().Get("per_page"), 10, 64)
	page, _ := strconv.ParseInt(r.URL.Query().Get("page"), 10, 64)
	if perPage <= 0 {
		perPage = db.DefaultPerPage
	}
	if page < 1 {
		page = 1
	}

	s.Mu.Lock()
	crates, total, err := s.DB.SearchCrates(q, perPage, page)
	s.Mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	if !hasExactMatch(crates, q) {
		log.Printf("no exact match for %q, search from upstream instead", q)
		result, err := s.Upstream.Search(r.Context(), q, perPage, page)
		if err != nil {
			writeError(w, E(KindExternal, err))
			return
		}
		s.Mu.Lock()
		err = s.DB.ReplaceCrates(result.Crates)
		s.Mu.Unlock()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, result)
		return
	}

	if crates == nil {
		crates = []*db.Crate{}
	}
	writeJSON(w, upstream.SearchResult{Crates: crates, Meta: upstream.Meta{Total: total}})
}

func hasExactMatch(crates []*db.Crate, q string) bool {
	for _, c := range crates {
		if c.Name == q {
			return true
		}
	}
	return false
}
