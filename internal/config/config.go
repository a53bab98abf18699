// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and persists the mirror registry TOML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

const (
	// DefaultPath is the config file looked up beside the binary.
	DefaultPath = "mirror.registry.toml"
	// DefaultPort is the port baked into the generated default address.
	DefaultPort = 55555

	upstreamIndexURL = "https://github.com/rust-lang/crates.io-index"
	upstreamAPIURL   = "https://crates.io"

	// DefaultPublishLimit caps a publish request body at 100 MiB.
	DefaultPublishLimit = 100 << 20
)

// Config is the full on-disk configuration.
type Config struct {
	Git      Git      `toml:"git" json:"git"`
	Crates   Crates   `toml:"crates" json:"crates"`
	Registry Registry `toml:"registry" json:"registry"`
	Database Database `toml:"database" json:"database"`
}

// Git configures the index repositories.
type Git struct {
	// IndexPath is the served bare repository.
	IndexPath string `toml:"index_path" json:"index_path"`
	// WorkingPath is the clone the registry mutates.
	WorkingPath string `toml:"working_path" json:"working_path"`
	// UpstreamURL is the upstream index repository.
	UpstreamURL string `toml:"upstream_url" json:"upstream_url"`
}

// Crates configures crate file storage and the upstream API.
type Crates struct {
	StoragePath string `toml:"storage_path" json:"storage_path"`
	UpstreamURL string `toml:"upstream_url" json:"upstream_url"`
}

// Registry configures the outward-facing registry behavior.
type Registry struct {
	// CanCreateAccount allows self-service account registration.
	CanCreateAccount bool `toml:"can_create_account" json:"can_create_account"`
	// Address is the externally reachable base URL, domain or IP.
	Address string `toml:"address" json:"address"`
	// Interval between index sync rounds, in "30m"/"6h"/"1d" form.
	Interval string `toml:"interval" json:"interval"`
	// PublishLimit caps the publish request body in bytes.
	PublishLimit int64 `toml:"publish_limit" json:"publish_limit"`
	Ldap         *Ldap `toml:"ldap,omitempty" json:"ldap,omitempty"`
}

// Ldap configures the optional LDAP login backend. Password is the plaintext
// bind credential of the search account.
type Ldap struct {
	Hostname string `toml:"hostname" json:"hostname"`
	BaseDN   string `toml:"base_dn" json:"base_dn"`
	Domain   string `toml:"domain" json:"domain"`
	Username string `toml:"username" json:"username"`
	Password string `toml:"password" json:"password"`
}

// Database points at the sqlite database file.
type Database struct {
	URL string `toml:"url" json:"url"`
}

// ParseInterval parses the "30m"/"6h"/"1d" interval form.
func ParseInterval(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, errors.Errorf("unsupported interval format %q", s)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "unsupported interval format %q", s)
	}
	switch s[len(s)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, errors.Errorf("unsupported interval format %q", s)
	}
}

// FormatInterval renders a duration in the largest whole unit of
// ParseInterval's form.
func FormatInterval(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", d/time.Hour)
	default:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
}

// Default builds the first-run configuration rooted at $HOME/.mirror, with
// the registry address guessed from the first usable interface.
func Default() (*Config, error) {
	addr, err := localAddress()
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "resolving home directory")
	}
	root := filepath.Join(home, ".mirror")
	return &Config{
		Git: Git{
			IndexPath:   filepath.Join(root, "index.git"),
			WorkingPath: filepath.Join(root, "work.git"),
			UpstreamURL: upstreamIndexURL,
		},
		Crates: Crates{
			StoragePath: filepath.Join(root, "crates"),
			UpstreamURL: upstreamAPIURL,
		},
		Registry: Registry{
			Address:          fmt.Sprintf("http://%s:%d", addr, DefaultPort),
			Interval:         "6h",
			CanCreateAccount: true,
			PublishLimit:     DefaultPublishLimit,
		},
		Database: Database{URL: "mirror.registry.sqlite3.db"},
	}, nil
}

func localAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", errors.Wrap(err, "listing interfaces")
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		if ipnet, ok := addrs[0].(*net.IPNet); ok {
			return ipnet.IP.String(), nil
		}
	}
	return "", errors.New("no usable local address found")
}

// Handle guards the live configuration. Reads go through View, mutations
// through Update which also persists the new value.
type Handle struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// Load reads the config at path, or generates and saves the default when the
// file does not exist. A corrupt file is an error, not silently replaced.
func Load(path string) (*Handle, error) {
	h := &Handle{path: path}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err := Default()
		if err != nil {
			return nil, err
		}
		h.cfg = cfg
		return h, h.save()
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "config file %s corrupted, correct it or delete it", path)
	}
	if cfg.Registry.PublishLimit == 0 {
		cfg.Registry.PublishLimit = DefaultPublishLimit
	}
	h.cfg = &cfg
	return h, nil
}

func (h *Handle) save() error {
	b, err := toml.Marshal(h.cfg)
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return errors.Wrapf(os.WriteFile(h.path, b, 0o644), "writing config %s", h.path)
}

// View runs f with the read lock held. f must not retain the pointer.
func (h *Handle) View(f func(*Config)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f(h.cfg)
}

// Snapshot returns a copy of the current configuration.
func (h *Handle) Snapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cfg := *h.cfg
	if h.cfg.Registry.Ldap != nil {
		ldap := *h.cfg.Registry.Ldap
		cfg.Registry.Ldap = &ldap
	}
	return cfg
}

// Update runs f with the write lock held and saves the result when f
// succeeds.
func (h *Handle) Update(f func(*Config) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := f(h.cfg); err != nil {
		return err
	}
	return h.save()
}

// Interval returns the parsed sync interval, falling back to 6 hours when
// the stored string is invalid.
func (h *Handle) Interval() time.Duration {
	var s string
	h.View(func(c *Config) { s = c.Registry.Interval })
	d, err := ParseInterval(s)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// Patch is a partial configuration update from the admin API. Nil fields are
// left untouched; a Registry patch with a nil Ldap clears the LDAP config.
type Patch struct {
	Git      *GitPatch      `json:"git"`
	Crates   *CratesPatch   `json:"crates"`
	Database *DatabasePatch `json:"database"`
	Registry *RegistryPatch `json:"registry"`
}

// GitPatch updates the [git] section.
type GitPatch struct {
	IndexPath   *string `json:"index_path"`
	WorkingPath *string `json:"working_path"`
	UpstreamURL *string `json:"upstream_url"`
}

// CratesPatch updates the [crates] section.
type CratesPatch struct {
	StoragePath *string `json:"storage_path"`
	UpstreamURL *string `json:"upstream_url"`
}

// DatabasePatch updates the [database] section.
type DatabasePatch struct {
	URL *string `json:"url"`
}

// RegistryPatch updates the [registry] section.
type RegistryPatch struct {
	Address          *string `json:"address"`
	Interval         *string `json:"interval"`
	CanCreateAccount *bool   `json:"can_create_account"`
	PublishLimit     *int64  `json:"publish_limit"`
	Ldap             *Ldap   `json:"ldap"`
}

func moveIfChanged(old, new string) error {
	if old == new {
		return nil
	}
	return errors.Wrapf(os.Rename(old, new), "moving %s to %s", old, new)
}

// Apply merges a patch into the live config and saves it. Path changes move
// the underlying files or directories.
func (h *Handle) Apply(p Patch) error {
	return h.Update(func(c *Config) error {
		if p.Git != nil {
			if p.Git.IndexPath != nil {
				if err := moveIfChanged(c.Git.IndexPath, *p.Git.IndexPath); err != nil {
					return err
				}
				c.Git.IndexPath = *p.Git.IndexPath
			}
			if p.Git.WorkingPath != nil {
				if err := moveIfChanged(c.Git.WorkingPath, *p.Git.WorkingPath); err != nil {
					return err
				}
				c.Git.WorkingPath = *p.Git.WorkingPath
			}
			if p.Git.UpstreamURL != nil {
				c.Git.UpstreamURL = *p.Git.UpstreamURL
			}
		}
		if p.Crates != nil {
			if p.Crates.StoragePath != nil {
				if err := moveIfChanged(c.Crates.StoragePath, *p.Crates.StoragePath); err != nil {
					return err
				}
				c.Crates.StoragePath = *p.Crates.StoragePath
			}
			if p.Crates.UpstreamURL != nil {
				c.Crates.UpstreamURL = *p.Crates.UpstreamURL
			}
		}
		if p.Database != nil && p.Database.URL != nil {
			if err := moveIfChanged(c.Database.URL, *p.Database.URL); err != nil {
				return err
			}
			c.Database.URL = *p.Database.URL
		}
		if p.Registry != nil {
			if p.Registry.Address != nil {
				c.Registry.Address = *p.Registry.Address
			}
			if p.Registry.Interval != nil {
				if _, err := ParseInterval(*p.Registry.Interval); err != nil {
					return err
				}
				c.Registry.Interval = *p.Registry.Interval
			}
			if p.Registry.CanCreateAccount != nil {
				c.Registry.CanCreateAccount = *p.Registry.CanCreateAccount
			}
			if p.Registry.PublishLimit != nil {
				c.Registry.PublishLimit = *p.Registry.PublishLimit
			}
			c.Registry.Ldap = p.Registry.Ldap
		}
		return nil
	})
}
