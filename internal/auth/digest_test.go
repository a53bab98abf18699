// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRandString(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		s := RandString(64)
		if len(s) != 64 {
			t.Fatalf("len = %d, want 64", len(s))
		}
		for _, c := range s {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
				t.Fatalf("non-alphanumeric char %q in %s", c, s)
			}
		}
		if seen[s] {
			t.Fatalf("duplicate random string %s", s)
		}
		seen[s] = true
	}
}

func TestParseDigest(t *testing.T) {
	header := `Digest username="alice", realm="mirror", nonce="abc", uri="/auth/login", ` +
		`qop=auth, nc=00000001, cnonce="xyz", response="deadbeef", opaque="def"`
	got, err := ParseDigest(header)
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	want := &Authorization{
		Username: "alice", Realm: "mirror", Nonce: "abc", URI: "/auth/login",
		Qop: "auth", NC: "00000001", Cnonce: "xyz", Response: "deadbeef", Opaque: "def",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseDigest mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDigestRejectsBasic(t *testing.T) {
	if _, err := ParseDigest("Basic YWxpY2U6aHVudGVyMg=="); err == nil {
		t.Fatal("expected error for non-digest header")
	}
}

func TestDigestResponse(t *testing.T) {
	ha1 := HA1("alice", "somesalt", "hunter2")
	if len(ha1) != 32 {
		t.Fatalf("ha1 = %q, want 32 hex chars", ha1)
	}
	r1 := DigestResponse(ha1, "GET", "/auth/login", "n1", "00000001", "c1", "auth")
	r2 := DigestResponse(ha1, "GET", "/auth/login", "n1", "00000001", "c1", "auth")
	if r1 != r2 {
		t.Error("response not deterministic")
	}
	if r1 == DigestResponse(ha1, "GET", "/auth/login", "n2", "00000001", "c1", "auth") {
		t.Error("response must depend on nonce")
	}
}

func TestNonceListSingleUse(t *testing.T) {
	var l NonceList
	nonce, opaque := l.Issue()
	if !l.Consume(nonce, opaque) {
		t.Fatal("fresh nonce not consumable")
	}
	if l.Consume(nonce, opaque) {
		t.Fatal("nonce consumed twice")
	}
	if l.Consume("bogus", "bogus") {
		t.Fatal("unknown nonce consumable")
	}
}

func TestNonceListEviction(t *testing.T) {
	var l NonceList
	first, firstOpaque := l.Issue()
	for i := 0; i < nonceCap; i++ {
		l.Issue()
	}
	if l.Consume(first, firstOpaque) {
		t.Fatal("oldest nonce should have been evicted")
	}
	if len(l.pairs) != nonceCap {
		t.Fatalf("len = %d, want %d", len(l.pairs), nonceCap)
	}
}

func TestHA1Stable(t *testing.T) {
	// The UI computes this client side; the scheme must stay fixed.
	if HA1("u", "s", "p") != md5hex("u:s:p") {
		t.Error("HA1 must be md5(username:salt:password)")
	}
}
