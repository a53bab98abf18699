// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package admin exposes the web control surface: one-time initialization
// and live configuration.
package admin

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/avalon1610/mirror-registry/internal/auth"
	"github.com/avalon1610/mirror-registry/internal/config"
	"github.com/avalon1610/mirror-registry/internal/gitcmd"
)

// Service handles the /web_api routes.
type Service struct {
	Cfg  *config.Handle
	Auth *auth.Service
	Git  *gitcmd.Driver
}

// Register installs the admin routes.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /web_api/init", s.Init)
	mux.HandleFunc("GET /web_api/config", s.GetConfig)
	mux.HandleFunc("POST /web_api/config", s.SetConfig)
}

func (s *Service) isAdmin(r *http.Request) bool {
	a, err := s.Auth.CheckSession(r)
	return err == nil && a.IsAdmin()
}

// Init runs the one-time repository initialization. The inited latch makes
// repeats a no-op; the busy flag single-flights concurrent attempts.
func (s *Service) Init(w http.ResponseWriter, r *http.Request) {
	if !s.isAdmin(r) {
		http.Error(w, "admin required", http.StatusForbidden)
		return
	}
	if s.Git.Inited() {
		return
	}
	if !s.Git.TryBusy() {
		http.Error(w, "already initializing, please wait", http.StatusBadRequest)
		return
	}
	err := s.Git.Initialize()
	s.Git.Done(err == nil)
	if err != nil {
		log.Printf("initialize failed: %v", err)
		http.Error(w, "initialize failed: "+err.Error(), http.StatusInternalServerError)
	}
}

// GetConfig reports the live configuration. Admins see everything plus the
// busy flag; everyone else only what the login page needs. The inited flag
// and the account salt are always present, the latter because the UI derives
// password hashes from it.
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.Cfg.Snapshot()
	out := map[string]any{
		"inited": s.Git.Inited(),
		"salt":   s.Auth.Salt,
	}
	if s.isAdmin(r) {
		out["git"] = cfg.Git
		out["crates"] = cfg.Crates
		out["database"] = cfg.Database
		out["registry"] = cfg.Registry
		out["busy"] = s.Git.Busy()
	} else {
		registry := map[string]any{
			"can_create_account": cfg.Registry.CanCreateAccount,
			"address":            cfg.Registry.Address,
		}
		if cfg.Registry.Ldap != nil {
			registry["ldap"] = map[string]any{"hostname": cfg.Registry.Ldap.Hostname}
		}
		out["registry"] = registry
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// SetConfig applies a partial config update and persists it. Path changes
// move the underlying files.
func (s *Service) SetConfig(w http.ResponseWriter, r *http.Request) {
	if !s.isAdmin(r) {
		http.Error(w, "admin required", http.StatusForbidden)
		return
	}
	var patch config.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Cfg.Apply(patch); err != nil {
		http.Error(w, "set config failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
}
