// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/avalon1610/mirror-registry/internal/config"
	"github.com/avalon1610/mirror-registry/pkg/db"
)

const testSalt = "0123456789abcdef0123456789abcdef"

func newService(t *testing.T) *Service {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	cfgPath := filepath.Join(t.TempDir(), "mirror.registry.toml")
	body := "[git]\nindex_path = \"/tmp/i\"\nworking_path = \"/tmp/w\"\nupstream_url = \"u\"\n" +
		"[crates]\nstorage_path = \"/tmp/c\"\nupstream_url = \"u\"\n" +
		"[registry]\ncan_create_account = true\naddress = \"http://localhost\"\ninterval = \"6h\"\n" +
		"[database]\nurl = \"x\"\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return &Service{
		Cfg:      cfg,
		DB:       d,
		Mu:       &sync.Mutex{},
		Sessions: NewSessions(),
		Nonces:   &NonceList{},
		Ldap:     NewLdapClient(),
		Realm:    "mirror-registry",
		Salt:     testSalt,
	}
}

func addAccount(t *testing.T, s *Service, username, password, role string) {
	t.Helper()
	if err := s.DB.CreateAccount(&db.Account{
		Username:    username,
		DisplayName: username,
		Salt:        testSalt,
		Type:        db.TypeInternal,
		Role:        role,
		Password:    HA1(username, testSalt, password),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestLoginChallenge(t *testing.T) {
	s := newService(t)
	w := httptest.NewRecorder()
	s.Login(w, httptest.NewRequest("GET", "/auth/login", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	challenge := w.Header().Get("WWW-Authenticate")
	if !strings.HasPrefix(challenge, `Digest realm="mirror-registry"`) {
		t.Errorf("challenge = %q", challenge)
	}
	if !strings.Contains(challenge, "qop=") || !strings.Contains(challenge, "nonce=") {
		t.Errorf("challenge missing fields: %q", challenge)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	s := newService(t)
	addAccount(t, s, "alice", "hunter2", db.RoleUser)

	// First request gets the challenge.
	w := httptest.NewRecorder()
	s.Login(w, httptest.NewRequest("GET", "/auth/login", nil))
	challenge, err := ParseDigest(w.Header().Get("WWW-Authenticate"))
	if err != nil {
		t.Fatalf("parsing challenge: %v", err)
	}

	// Second request answers it.
	ha1 := HA1("alice", testSalt, "hunter2")
	resp := DigestResponse(ha1, "GET", "/auth/login", challenge.Nonce, "00000001", "cn", "auth")
	digestHeader := fmt.Sprintf(
		`Digest username="alice", realm="%s", nonce="%s", uri="/auth/login", qop=auth, nc=00000001, cnonce="cn", response="%s", opaque="%s"`,
		challenge.Realm, challenge.Nonce, resp, challenge.Opaque)
	req := httptest.NewRequest("GET", "/auth/login", nil)
	req.Header.Set("Authorization", digestHeader)
	w = httptest.NewRecorder()
	s.Login(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var ctx struct {
		Username string `json:"username"`
		Token    string `json:"token"`
		Role     string `json:"role"`
		Type     string `json:"type"`
	}
	if err := json.NewDecoder(w.Body).Decode(&ctx); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if ctx.Username != "alice" || ctx.Role != db.RoleUser || ctx.Type != db.TypeInternal {
		t.Errorf("context = %+v", ctx)
	}
	if len(ctx.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(ctx.Token))
	}

	// Token is now usable for cargo-style auth.
	req = httptest.NewRequest("PUT", "/api/v1/crates/new", nil)
	req.Header.Set("Authorization", ctx.Token)
	a, err := s.CheckToken(req)
	if err != nil {
		t.Fatalf("CheckToken: %v", err)
	}
	if a.Username != "alice" {
		t.Errorf("token resolved to %s", a.Username)
	}

	// A replayed nonce is rejected.
	replay := httptest.NewRequest("GET", "/auth/login", nil)
	replay.Header.Set("Authorization", digestHeader)
	w = httptest.NewRecorder()
	s.Login(w, replay)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("replay status = %d, want 401", w.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	s := newService(t)
	addAccount(t, s, "alice", "hunter2", db.RoleUser)
	w := httptest.NewRecorder()
	s.Login(w, httptest.NewRequest("GET", "/auth/login", nil))
	challenge, _ := ParseDigest(w.Header().Get("WWW-Authenticate"))

	ha1 := HA1("alice", testSalt, "wrong")
	resp := DigestResponse(ha1, "GET", "/auth/login", challenge.Nonce, "00000001", "cn", "auth")
	req := httptest.NewRequest("GET", "/auth/login", nil)
	req.Header.Set("Authorization", fmt.Sprintf(
		`Digest username="alice", realm="%s", nonce="%s", uri="/auth/login", qop=auth, nc=00000001, cnonce="cn", response="%s", opaque="%s"`,
		challenge.Realm, challenge.Nonce, resp, challenge.Opaque))
	w = httptest.NewRecorder()
	s.Login(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestCreateAccount(t *testing.T) {
	s := newService(t)
	body := `{"username": "bob", "password": "` + HA1("bob", testSalt, "pw") + `"}`
	w := httptest.NewRecorder()
	s.Create(w, httptest.NewRequest("POST", "/auth/create", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	a, err := s.DB.GetAccountByName("bob")
	if err != nil {
		t.Fatalf("GetAccountByName: %v", err)
	}
	if a.Role != db.RoleUser || a.Type != db.TypeInternal || a.Salt != testSalt {
		t.Errorf("account = %+v", a)
	}
}

func TestCreateAccountDisabled(t *testing.T) {
	s := newService(t)
	cca := false
	if err := s.Cfg.Apply(config.Patch{Registry: &config.RegistryPatch{CanCreateAccount: &cca}}); err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	s.Create(w, httptest.NewRequest("POST", "/auth/create", strings.NewReader(`{"username":"x","password":"y"}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestModifyPermissions(t *testing.T) {
	s := newService(t)
	addAccount(t, s, "root", "rootpw", db.RoleRoot)
	addAccount(t, s, "alice", "pw1", db.RoleUser)
	addAccount(t, s, "bob", "pw2", db.RoleUser)

	session := func(username string) *http.Request {
		w := httptest.NewRecorder()
		s.Sessions.Issue(w, username)
		req := httptest.NewRequest("POST", "/auth/modify", strings.NewReader(
			`{"username": "bob", "password": "newhash"}`))
		req.Header.Set("Cookie", w.Header().Get("Set-Cookie"))
		return req
	}

	// Another plain user cannot modify bob.
	w := httptest.NewRecorder()
	s.Modify(w, session("alice"))
	if w.Code != http.StatusForbidden {
		t.Errorf("alice modifying bob: status = %d, want 403", w.Code)
	}

	// Bob can modify himself.
	w = httptest.NewRecorder()
	s.Modify(w, session("bob"))
	if w.Code != http.StatusOK {
		t.Errorf("bob modifying bob: status = %d, body = %s", w.Code, w.Body.String())
	}

	// Root can modify anyone.
	w = httptest.NewRecorder()
	s.Modify(w, session("root"))
	if w.Code != http.StatusOK {
		t.Errorf("root modifying bob: status = %d, body = %s", w.Code, w.Body.String())
	}
	a, _ := s.DB.GetAccountByName("bob")
	if a.Password != "newhash" {
		t.Errorf("password = %q, want newhash", a.Password)
	}
}

func TestWhoRedirectsAnonymous(t *testing.T) {
	s := newService(t)
	w := httptest.NewRecorder()
	s.Who(w, httptest.NewRequest("GET", "/auth/who", nil))
	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/auth/login?redirect=/auth/who" {
		t.Errorf("location = %q", loc)
	}
}

func TestSessionTamper(t *testing.T) {
	s := NewSessions()
	w := httptest.NewRecorder()
	s.Issue(w, "alice")
	cookie := w.Header().Get("Set-Cookie")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", cookie)
	if name, ok := s.Identify(req); !ok || name != "alice" {
		t.Fatalf("Identify = %q, %v", name, ok)
	}

	// Flipping the payload invalidates the signature.
	tampered := strings.Replace(cookie, "mirror-session=", "mirror-session=x", 1)
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", tampered)
	if _, ok := s.Identify(req); ok {
		t.Fatal("tampered cookie accepted")
	}
}
