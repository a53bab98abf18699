// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// ownerUser is one entry of the owner listing cargo shows.
type ownerUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

type ownerList struct {
	Users []ownerUser `json:"users"`
}

// userNames is the add/remove request body.
type userNames struct {
	Users []string `json:"users"`
}

// ListOwners lists a crate's owners; only owners may ask.
func (s *Server) ListOwners(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.Mu.Lock()
	defer s.Mu.Unlock()
	_, owners, err := s.checkOwner(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	accounts, err := s.DB.GetOwners(owners)
	if err != nil {
		writeError(w, err)
		return
	}
	out := ownerList{Users: []ownerUser{}}
	for _, a := range accounts {
		out.Users = append(out.Users, ownerUser{ID: a.ID, Login: a.Username, Name: a.DisplayName})
	}
	log.Printf("list owners for %s: %v", name, owners)
	writeJSON(w, out)
}

// AddOwners grants ownership to more users.
func (s *Server) AddOwners(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req userNames
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, E(KindInvalidRequest, err))
		return
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()
	_, owners, err := s.checkOwner(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.DB.AddOwner(name, owners, req.Users); err != nil {
		writeError(w, E(KindInvalidRequest, err))
		return
	}
	msg := fmt.Sprintf("user [%s] has been added to be an owner of crate %s",
		strings.Join(req.Users, ", "), name)
	writeJSON(w, quickOk{OK: true, Msg: msg})
}

// RemoveOwners revokes ownership. The last owner can never be removed.
func (s *Server) RemoveOwners(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req userNames
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, E(KindInvalidRequest, err))
		return
	}

	s.Mu.Lock()
	defer s.Mu.Unlock()
	_, owners, err := s.checkOwner(r, name)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(owners) == 1 {
		writeError(w, Ef(KindInvalidRequest, "crate %s has only one owner, can not remove anymore", name))
		return
	}
	if err := s.DB.RemoveOwner(name, owners, req.Users); err != nil {
		writeError(w, E(KindInvalidRequest, err))
		return
	}
	msg := fmt.Sprintf("user [%s] has been removed from the owners of crate %s",
		strings.Join(req.Users, ", "), name)
	writeJSON(w, quickOk{OK: true, Msg: msg})
}
