// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/avalon1610/mirror-registry/internal/config"
	"github.com/avalon1610/mirror-registry/pkg/db"
	"github.com/avalon1610/mirror-registry/pkg/index"
	"github.com/avalon1610/mirror-registry/pkg/storage"
	"github.com/pkg/errors"
)

// parseFrame decodes cargo's publish framing: u32 LE metadata length, the
// metadata JSON, u32 LE crate length, the crate bytes. Either length above
// limit is rejected before allocation.
func parseFrame(r io.Reader, limit int64) (*index.CrateInfo, []byte, error) {
	readLen := func(what string) (uint32, error) {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return 0, errors.Wrapf(err, "reading %s length", what)
		}
		if int64(n) > limit {
			return 0, errors.Errorf("%s length %d exceeds publish limit %d", what, n, limit)
		}
		return n, nil
	}

	metaLen, err := readLen("metadata")
	if err != nil {
		return nil, nil, err
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(r, meta); err != nil {
		return nil, nil, errors.Wrap(err, "reading metadata")
	}
	var info index.CrateInfo
	if err := json.Unmarshal(meta, &info); err != nil {
		return nil, nil, errors.Wrap(err, "decoding crate metadata")
	}

	crateLen, err := readLen("crate")
	if err != nil {
		return nil, nil, err
	}
	data := make([]byte, crateLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, nil, errors.Wrap(err, "reading crate bytes")
	}
	return &info, data, nil
}

// Publish accepts a new crate version: store the artifact, append the index
// record, commit and push, then record the DB row. The DB row lands last so
// a failed push never leaves a row without a pushed index entry.
func (s *Server) Publish(w http.ResponseWriter, r *http.Request) {
	if !s.Git.Inited() {
		writeError(w, Ef(KindInvalidRequest, "system not initialized"))
		return
	}
	account, err := s.Auth.CheckToken(r)
	if err != nil {
		writeError(w, E(KindUnauthorized, err))
		return
	}

	var limit int64
	s.Cfg.View(func(c *config.Config) { limit = c.Registry.PublishLimit })
	info, data, err := parseFrame(r.Body, limit)
	if err != nil {
		writeError(w, E(KindInvalidRequest, err))
		return
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()

	if existing, err := s.DB.GetCrate(info.Name); err == nil {
		if _, err := ownersOf(account, existing); err != nil {
			writeError(w, err)
			return
		}
	} else if !errors.Is(err, db.ErrNoRow) {
		writeError(w, err)
		return
	}

	cksum := storage.Checksum(data)
	if err := s.store().Put(info.Name, info.Vers, data); err != nil {
		writeError(w, err)
		return
	}
	if err := s.index().Append(*info, cksum); err != nil {
		if errors.Is(err, index.ErrVersionNotGreater) {
			writeError(w, E(KindConflict, err))
		} else {
			writeError(w, err)
		}
		return
	}
	if err := s.Git.Commit(fmt.Sprintf("add crate %s-%s", info.Name, info.Vers)); err != nil {
		writeError(w, E(KindExternal, err))
		return
	}
	if err := s.Git.SyncIndex(); err != nil {
		writeError(w, E(KindExternal, err))
		return
	}
	if err := s.DB.UpsertOnPublish(*info, account.Username); err != nil {
		writeError(w, err)
		return
	}

	log.Printf("%s published new crate %s-%s", account.Username, info.Name, info.Vers)
	writeJSON(w, quickOk{OK: true})
}
