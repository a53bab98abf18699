// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the registry's authentication surface: digest and
// LDAP login, token and session identity, and the account endpoints.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandString returns n random alphanumeric characters.
func RandString(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphanumeric))))
		if err != nil {
			panic(err) // crypto/rand failure is not recoverable
		}
		b.WriteByte(alphanumeric[idx.Int64()])
	}
	return b.String()
}

func md5hex(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

// HA1 derives the stored password hash for an internal account. The web UI
// computes the same value client side, so only this digest ever crosses the
// wire or lands in the database.
func HA1(username, salt, password string) string {
	return md5hex(username + ":" + salt + ":" + password)
}

// DigestResponse computes the qop=auth response value for a challenge.
func DigestResponse(ha1, method, uri, nonce, nc, cnonce, qop string) string {
	ha2 := md5hex(method + ":" + uri)
	return md5hex(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":"))
}

// Authorization is a parsed Digest Authorization header.
type Authorization struct {
	Username string
	Realm    string
	Nonce    string
	URI      string
	Qop      string
	NC       string
	Cnonce   string
	Response string
	Opaque   string
}

const digestMark = "Digest"

// ParseDigest parses a Digest Authorization header. Unknown parameters are
// ignored.
func ParseDigest(header string) (*Authorization, error) {
	if !strings.HasPrefix(header, digestMark) {
		return nil, errors.New("only support digest authorization")
	}
	var a Authorization
	for _, part := range strings.Split(strings.TrimSpace(header[len(digestMark):]), ",") {
		part = strings.TrimSpace(part)
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, errors.Errorf("invalid part of authorization: %s", part)
		}
		v = strings.Trim(v, `"`)
		switch k {
		case "username":
			a.Username = v
		case "realm":
			a.Realm = v
		case "nonce":
			a.Nonce = v
		case "uri":
			a.URI = v
		case "qop":
			a.Qop = v
		case "nc":
			a.NC = v
		case "cnonce":
			a.Cnonce = v
		case "response":
			a.Response = v
		case "opaque":
			a.Opaque = v
		}
	}
	return &a, nil
}

// nonceCap bounds outstanding challenges; oldest are evicted on insert.
const nonceCap = 256

type noncePair struct {
	nonce, opaque string
}

// NonceList tracks outstanding digest challenges.
type NonceList struct {
	mu    sync.Mutex
	pairs []noncePair
}

// Issue mints a nonce/opaque pair and remembers it, evicting the oldest
// entry when full.
func (l *NonceList) Issue() (nonce, opaque string) {
	nonce, opaque = RandString(32), RandString(32)
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.pairs) >= nonceCap {
		l.pairs = l.pairs[1:]
	}
	l.pairs = append(l.pairs, noncePair{nonce, opaque})
	return nonce, opaque
}

// Consume removes the newest entry matching either value, reporting whether
// one was found. Each challenge is single use.
func (l *NonceList) Consume(nonce, opaque string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.pairs) - 1; i >= 0; i-- {
		if l.pairs[i].nonce == nonce || l.pairs[i].opaque == opaque {
			l.pairs = append(l.pairs[:i], l.pairs[i+1:]...)
			return true
		}
	}
	return false
}
