// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avalon1610/mirror-registry/internal/config"
	"github.com/avalon1610/mirror-registry/pkg/db"
	"github.com/pkg/errors"
)

// Service is the authentication surface. Mu serializes database access with
// the rest of the registry.
type Service struct {
	Cfg      *config.Handle
	DB       *db.DB
	Mu       *sync.Mutex
	Sessions *Sessions
	Nonces   *NonceList
	Ldap     *LdapClient

	// Realm identifies the protection space in digest challenges. It is
	// deliberately not the account salt; the salt reaches the UI through
	// the config endpoint.
	Realm string
	// Salt is the shared account salt established at root bootstrap.
	Salt string
}

// Register installs the auth routes.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/login", s.Login)
	mux.HandleFunc("GET /auth/ldap_login", s.LdapLogin)
	mux.HandleFunc("GET /auth/logout", s.Logout)
	mux.HandleFunc("GET /auth/who", s.Who)
	mux.HandleFunc("POST /auth/create", s.Create)
	mux.HandleFunc("POST /auth/modify", s.Modify)
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/auth/who", http.StatusMovedPermanently)
	})
}

// userContext is the login response payload consumed by the web UI and by
// cargo login.
type userContext struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	Role     string `json:"role"`
	Type     string `json:"type"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Service) unauthorized(w http.ResponseWriter, msg string) {
	nonce, opaque := s.Nonces.Issue()
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`Digest realm="%s",qop="auth",nonce="%s",opaque="%s"`, s.Realm, nonce, opaque))
	http.Error(w, msg, http.StatusUnauthorized)
}

// CheckSession resolves the identity cookie to an account.
func (s *Service) CheckSession(r *http.Request) (*db.Account, error) {
	name, ok := s.Sessions.Identify(r)
	if !ok {
		return nil, errors.New("you need login first")
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	a, err := s.DB.GetAccountByName(name)
	if errors.Is(err, db.ErrNoRow) {
		return nil, errors.New("invalid session")
	}
	return a, err
}

// CheckToken resolves the bare Authorization header cargo sends to an
// account.
func (s *Service) CheckToken(r *http.Request) (*db.Account, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return nil, errors.New("missing authorization token")
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.DB.GetAccountByToken(token)
}

func (s *Service) finishLogin(w http.ResponseWriter, r *http.Request, a *db.Account) {
	token := RandString(64)
	now := time.Now().Format(time.RFC3339)
	a.Token = &token
	a.LastLogin = &now
	s.Mu.Lock()
	err := s.DB.UpdateAccount(a)
	s.Mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.Sessions.Issue(w, a.Username)
	if redirect := r.URL.Query().Get("redirect"); redirect != "" {
		http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
		return
	}
	writeJSON(w, userContext{Username: a.DisplayName, Token: token, Role: a.Role, Type: a.Type})
}

// Login performs digest authentication for internal accounts. Without an
// Authorization header it issues a fresh challenge.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	if a, err := s.CheckSession(r); err == nil && a.Token != nil {
		writeJSON(w, userContext{Username: a.Username, Token: *a.Token, Role: a.Role, Type: a.Type})
		return
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		s.unauthorized(w, "cancelled")
		return
	}
	auth, err := ParseDigest(header)
	if err != nil {
		s.unauthorized(w, err.Error())
		return
	}
	if !strings.HasPrefix(auth.URI, "/auth/login") {
		s.unauthorized(w, "authorization uri not match")
		return
	}
	if !s.Nonces.Consume(auth.Nonce, auth.Opaque) {
		s.unauthorized(w, "invalid nonce or opaque")
		return
	}
	if auth.Qop != "auth" {
		s.unauthorized(w, "only support qop = auth")
		return
	}

	s.Mu.Lock()
	a, err := s.DB.GetAccountByName(auth.Username)
	s.Mu.Unlock()
	if errors.Is(err, db.ErrNoRow) {
		s.unauthorized(w, "invalid username or password")
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if a.Type != db.TypeInternal {
		s.unauthorized(w, "invalid login type")
		return
	}

	expected := DigestResponse(a.Password, r.Method, r.URL.RequestURI(), auth.Nonce, auth.NC, auth.Cnonce, auth.Qop)
	if expected != auth.Response {
		log.Printf("remote: %s user: %s wrong username or password", r.RemoteAddr, auth.Username)
		s.unauthorized(w, "invalid username or password")
		return
	}
	log.Printf("remote: %s user: %s login ok", r.RemoteAddr, auth.Username)
	s.finishLogin(w, r, a)
}

func parseBasic(header string) (username, password string, err error) {
	const mark = "Basic "
	if !strings.HasPrefix(header, mark) {
		return "", "", errors.New("only support basic authorization")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(mark):]))
	if err != nil {
		return "", "", errors.Wrap(err, "decoding authorization")
	}
	username, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", errors.New("invalid authorization")
	}
	return username, password, nil
}

// LdapLogin performs basic-auth login against the configured directory,
// materializing an account on first success.
func (s *Service) LdapLogin(w http.ResponseWriter, r *http.Request) {
	if a, err := s.CheckSession(r); err == nil && a.Token != nil {
		writeJSON(w, userContext{Username: a.Username, Token: *a.Token, Role: a.Role, Type: a.Type})
		return
	}

	var ldapCfg *config.Ldap
	s.Cfg.View(func(c *config.Config) { ldapCfg = c.Registry.Ldap })
	if ldapCfg == nil {
		http.Error(w, "ldap not enabled", http.StatusBadRequest)
		return
	}
	if err := s.Ldap.Connect(*ldapCfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	basicUnauthorized := func(msg string) {
		w.Header().Set("WWW-Authenticate", "Basic")
		http.Error(w, msg, http.StatusUnauthorized)
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		basicUnauthorized("cancelled")
		return
	}
	username, password, err := parseBasic(header)
	if err != nil {
		basicUnauthorized(err.Error())
		return
	}

	s.Mu.Lock()
	a, err := s.DB.GetAccountByName(username)
	s.Mu.Unlock()
	if errors.Is(err, db.ErrNoRow) {
		found, err := s.Ldap.SearchUser(username)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if found == nil {
			basicUnauthorized("invalid username or password")
			return
		}
		s.Mu.Lock()
		err = s.DB.CreateAccount(found)
		s.Mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		a = found
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	} else if a.Type != db.TypeLdap {
		basicUnauthorized("invalid login type")
		return
	}

	if err := s.Ldap.Bind(username, password); err != nil {
		log.Printf("ldap bind failed: %v", err)
		basicUnauthorized("invalid username or password")
		return
	}
	log.Printf("remote: %s user: %s login ok via LDAP", r.RemoteAddr, username)
	s.finishLogin(w, r, a)
}

// Logout drops the identity cookie.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	s.Sessions.Clear(w)
}

// Who reports the logged-in user, redirecting anonymous visitors to login.
func (s *Service) Who(w http.ResponseWriter, r *http.Request) {
	name, ok := s.Sessions.Identify(r)
	if !ok {
		http.Redirect(w, r, "/auth/login?redirect=/auth/who", http.StatusMovedPermanently)
		return
	}
	s.Mu.Lock()
	a, err := s.DB.GetAccountByName(name)
	s.Mu.Unlock()
	if errors.Is(err, db.ErrNoRow) {
		s.unauthorized(w, "no such user")
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if a.Token == nil {
		s.unauthorized(w, "session timeout")
		return
	}
	writeJSON(w, userContext{Username: a.Username, Token: *a.Token, Role: a.Role, Type: a.Type})
}

// newAccount is the account create/modify payload. Password carries the
// client-computed HA1, never plaintext.
type newAccount struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Email    *string `json:"email"`
}

// Create registers a new internal account when self-service registration is
// enabled.
func (s *Service) Create(w http.ResponseWriter, r *http.Request) {
	var canCreate bool
	s.Cfg.View(func(c *config.Config) { canCreate = c.Registry.CanCreateAccount })
	if !canCreate {
		http.Error(w, "account creation has been disabled", http.StatusBadRequest)
		return
	}
	var req newAccount
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a := &db.Account{
		Username:    req.Username,
		DisplayName: req.Username,
		Salt:        s.Salt,
		Email:       req.Email,
		Type:        db.TypeInternal,
		Role:        db.RoleUser,
		Password:    req.Password,
	}
	s.Mu.Lock()
	err := s.DB.CreateAccount(a)
	s.Mu.Unlock()
	if err != nil {
		http.Error(w, fmt.Sprintf("create account failed: %v", err), http.StatusBadRequest)
		return
	}
	log.Printf("created new account %s", req.Username)
}

// Modify updates an internal account's password and email. Only root or the
// account itself may do so.
func (s *Service) Modify(w http.ResponseWriter, r *http.Request) {
	op, err := s.CheckSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	var req newAccount
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	target, err := s.DB.GetAccountByName(req.Username)
	if errors.Is(err, db.ErrNoRow) {
		http.Error(w, fmt.Sprintf("no such user: [%s]", req.Username), http.StatusBadRequest)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if target.Type == db.TypeLdap {
		http.Error(w, "can not modify LDAP user", http.StatusForbidden)
		return
	}
	if op.Role != db.RoleRoot && op.Username != req.Username {
		http.Error(w, "only the root user or oneself can change the password", http.StatusForbidden)
		return
	}
	target.Password = req.Password
	if req.Email != nil {
		target.Email = req.Email
	}
	if err := s.DB.UpdateAccount(target); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
