// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package gitcmd

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConvertArgs(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{
			in:   `commit -m "change config.json to mirror"`,
			want: []string{"commit", "-m", `"change config.json to mirror"`},
		},
		{
			in:   "pull --progress upstream master",
			want: []string{"pull", "--progress", "upstream", "master"},
		},
		{
			in:   `clone "my repo" work`,
			want: []string{"clone", `"my repo"`, "work"},
		},
		{
			in:   "  add   .  ",
			want: []string{"add", "."},
		},
		{
			in:      `commit -m "unterminated`,
			wantErr: true,
		},
	} {
		got, err := ConvertArgs(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ConvertArgs(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ConvertArgs(%q): %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ConvertArgs(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestBackendCandidates(t *testing.T) {
	got := backendCandidates("/usr/bin/git")
	want := []string{
		"/usr/lib/git-core/git-http-backend",
		"/usr/libexec/git-core/git-http-backend",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("backendCandidates mismatch (-want +got):\n%s", diff)
	}
}
