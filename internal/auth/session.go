// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

const sessionCookie = "mirror-session"

// Sessions issues and validates signed identity cookies. The key is
// generated per process, so sessions do not survive a restart; tokens do.
type Sessions struct {
	key []byte
}

// NewSessions returns a session signer with a fresh random key.
func NewSessions() *Sessions {
	return &Sessions{key: []byte(RandString(32))}
}

func (s *Sessions) sign(username string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(username))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue sets the identity cookie for username.
func (s *Sessions) Issue(w http.ResponseWriter, username string) {
	value := base64.URLEncoding.EncodeToString([]byte(username)) + "." + s.sign(username)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
	})
}

// Identify returns the username carried by a valid identity cookie.
func (s *Sessions) Identify(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	encoded, sig, ok := strings.Cut(c.Value, ".")
	if !ok {
		return "", false
	}
	name, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(string(name)))) {
		return "", false
	}
	return string(name), true
}

// Clear drops the identity cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
