// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"sync"

	"github.com/avalon1610/mirror-registry/internal/config"
	"github.com/avalon1610/mirror-registry/pkg/db"
	ldap "github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
)

type ldapEntry struct {
	username    string
	displayName string
	email       string
}

// LdapClient talks to the configured LDAP server. The directory is listed
// once with the search account and cached; binds always hit the server.
type LdapClient struct {
	mu    sync.Mutex
	cfg   config.Ldap
	conn  *ldap.Conn
	cache map[string]ldapEntry
}

// NewLdapClient returns a disconnected client.
func NewLdapClient() *LdapClient {
	return &LdapClient{cache: make(map[string]ldapEntry)}
}

// Connect dials the server from the current config, replacing any previous
// connection.
func (l *LdapClient) Connect(cfg config.Ldap) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	conn, err := ldap.DialURL(fmt.Sprintf("ldap://%s", cfg.Hostname))
	if err != nil {
		return errors.Wrapf(err, "connecting ldap server %s", cfg.Hostname)
	}
	l.conn = conn
	l.cfg = cfg
	return nil
}

// Bind authenticates username/password as user@domain.
func (l *LdapClient) Bind(username, password string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return errors.New("ldap server not connected")
	}
	err := l.conn.Bind(fmt.Sprintf("%s@%s", username, l.cfg.Domain), password)
	return errors.Wrapf(err, "binding %s", username)
}

// SearchUser looks up a directory user by sAMAccountName, returning a
// materialized account, or nil when the user is not in the directory.
func (l *LdapClient) SearchUser(username string) (*db.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.cache[username]
	if !ok {
		if err := l.refreshCacheLocked(); err != nil {
			return nil, err
		}
		if entry, ok = l.cache[username]; !ok {
			return nil, nil
		}
	}
	email := entry.email
	return &db.Account{
		Username:    entry.username,
		DisplayName: entry.displayName,
		Email:       &email,
		Type:        db.TypeLdap,
		Role:        db.RoleUser,
	}, nil
}

func (l *LdapClient) refreshCacheLocked() error {
	if l.conn == nil {
		return errors.New("ldap server not connected")
	}
	if err := l.conn.Bind(fmt.Sprintf("%s@%s", l.cfg.Username, l.cfg.Domain), l.cfg.Password); err != nil {
		return errors.Wrap(err, "binding search account")
	}
	req := ldap.NewSearchRequest(
		l.cfg.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		"(objectclass=person)", []string{"sAMAccountName", "cn", "mail"}, nil)
	result, err := l.conn.Search(req)
	if err != nil {
		return errors.Wrap(err, "searching directory")
	}
	for _, e := range result.Entries {
		sam := e.GetAttributeValue("sAMAccountName")
		if sam == "" {
			continue
		}
		l.cache[sam] = ldapEntry{
			username:    sam,
			displayName: e.GetAttributeValue("cn"),
			email:       e.GetAttributeValue("mail"),
		}
	}
	return nil
}
