// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// The mirror-registry binary serves a caching crates registry: the crates
// API, the git smart-HTTP index, the auth surface, and the web control API,
// all on one port.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/avalon1610/mirror-registry/internal/admin"
	"github.com/avalon1610/mirror-registry/internal/auth"
	"github.com/avalon1610/mirror-registry/internal/cgi"
	"github.com/avalon1610/mirror-registry/internal/config"
	"github.com/avalon1610/mirror-registry/internal/gitcmd"
	"github.com/avalon1610/mirror-registry/internal/registry"
	"github.com/avalon1610/mirror-registry/pkg/db"
	"github.com/avalon1610/mirror-registry/pkg/upstream"
)

var (
	configPath = flag.String("config", config.DefaultPath, "path to the TOML config file")
	port       = flag.Int("port", config.DefaultPort, "port on which to serve")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	snapshot := cfg.Snapshot()

	backend, err := gitcmd.FindHTTPBackend()
	if err != nil {
		log.Fatalf("%v", err)
	}

	d, err := db.Open(snapshot.Database.URL)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer d.Close()

	salt, err := auth.SetupRoot(d)
	if err != nil {
		log.Fatalf("setting up root account: %v", err)
	}

	mu := &sync.Mutex{}
	driver := gitcmd.NewDriver(cfg)
	authService := &auth.Service{
		Cfg:      cfg,
		DB:       d,
		Mu:       mu,
		Sessions: auth.NewSessions(),
		Nonces:   &auth.NonceList{},
		Ldap:     auth.NewLdapClient(),
		Realm:    "mirror-registry",
		Salt:     salt,
	}
	server := &registry.Server{
		Cfg:      cfg,
		DB:       d,
		Mu:       mu,
		Git:      driver,
		Upstream: upstream.NewHTTPRegistry(snapshot.Crates.UpstreamURL),
		Auth:     authService,
	}
	adminService := &admin.Service{Cfg: cfg, Auth: authService, Git: driver}

	mux := http.NewServeMux()
	authService.Register(mux)
	server.Register(mux)
	adminService.Register(mux)
	mux.Handle(cgi.Prefix+"/", &cgi.Handler{Backend: backend, Cfg: cfg, Driver: driver})

	go admin.RunScheduler(context.Background(), cfg, driver)

	log.Printf("server listening on port %d", *port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *port), mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
