// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"log"
	"net/http"
	"time"

	"github.com/avalon1610/mirror-registry/pkg/storage"
	"github.com/pkg/errors"
)

// fetchAttempts bounds checksum-mismatch retries against upstream.
const fetchAttempts = 5

// Download serves a crate file, filling the store from upstream on miss.
func (s *Server) Download(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	store := s.store()
	f, err := store.Open(name, version)
	if errors.Is(err, storage.ErrNotExist) {
		log.Printf("%s-%s.crate is not in our storage, get it from upstream", name, version)
		if err := s.fetchFromUpstream(r, name, version); err != nil {
			writeError(w, err)
			return
		}
		if f, err = store.Open(name, version); err != nil {
			writeError(w, err)
			return
		}
	} else if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/gzip")
	http.ServeContent(w, r, name+"-"+version+".crate", time.Time{}, f)
}

// fetchFromUpstream downloads one crate version, retrying until the bytes
// match the cksum recorded in the index.
func (s *Server) fetchFromUpstream(r *http.Request, name, version string) error {
	meta, err := s.index().GetExact(name, version)
	if err != nil {
		return E(KindNotFound, err)
	}
	for i := 0; i < fetchAttempts; i++ {
		data, err := s.Upstream.Artifact(r.Context(), name, version)
		if err != nil {
			return E(KindExternal, err)
		}
		if storage.Checksum(data) != meta.Cksum {
			log.Printf("checksum not match, try download again, retry time: %d", i)
			continue
		}
		return s.store().Put(name, version, data)
	}
	return Ef(KindIntegrity, "checksum mismatch for %s-%s after %d attempts", name, version, fetchAttempts)
}
