// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package semver implements the Semantic Versioning 2.0.0 spec as used by
// cargo version strings.
package semver

import (
	"cmp"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Semver struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
	Build      string
}

// Adapted from: https://semver.org/spec/v2.0.0#is-there-a-suggested-regular-expression-regex-to-check-a-semver-string
// Cargo version strings never carry a leading "v" so none is accepted here.
var semverRE = regexp.MustCompile(`^(?P<Major>0|[1-9]\d*)\.(?P<Minor>0|[1-9]\d*)\.(?P<Patch>0|[1-9]\d*)(?:-(?P<Prerelease>(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+(?P<Build>[0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

func New(s string) (Semver, error) {
	matches := semverRE.FindStringSubmatch(s)
	if matches == nil {
		return Semver{}, errors.Errorf("invalid semver %q", s)
	}
	major, _ := strconv.Atoi(matches[semverRE.SubexpIndex("Major")])
	minor, _ := strconv.Atoi(matches[semverRE.SubexpIndex("Minor")])
	patch, _ := strconv.Atoi(matches[semverRE.SubexpIndex("Patch")])
	return Semver{
		Major:      major,
		Minor:      minor,
		Patch:      patch,
		Prerelease: matches[semverRE.SubexpIndex("Prerelease")],
		Build:      matches[semverRE.SubexpIndex("Build")],
	}, nil
}

// Stable reports whether the version has neither prerelease nor build
// metadata. Only stable versions participate in max_stable_version.
func (s Semver) Stable() bool {
	return s.Prerelease == "" && s.Build == ""
}

var numericRE = regexp.MustCompile(`\d+`)

// prereleaseKey splits an identifier around its last digit run, so "rc10"
// orders after "rc2". The tail past the run is kept: "rc1a" != "rc1".
func prereleaseKey(p string) (alpha string, numeric int, rest string) {
	alpha = p
	if match := numericRE.FindAllStringIndex(p, -1); match != nil {
		last := match[len(match)-1]
		numeric, _ = strconv.Atoi(p[last[0]:last[1]])
		alpha = p[:last[0]]
		rest = p[last[1]:]
	}
	return
}

func prereleaseKeys(p string) (alphas []string, numerics []int, rests []string) {
	for _, part := range strings.Split(p, ".") {
		a, n, r := prereleaseKey(part)
		alphas = append(alphas, a)
		numerics = append(numerics, n)
		rests = append(rests, r)
	}
	return
}

func prereleaseCmp(a, b string) int {
	// An empty prerelease orders after any non-empty one.
	if a == "" {
		return 1
	} else if b == "" {
		return -1
	}
	aas, ans, ars := prereleaseKeys(a)
	bas, bns, brs := prereleaseKeys(b)
	for i := 0; i < min(len(aas), len(bas)); i++ {
		if aas[i] != bas[i] {
			return strings.Compare(aas[i], bas[i])
		}
		if ans[i] != bns[i] {
			return cmp.Compare(ans[i], bns[i])
		}
		if ars[i] != brs[i] {
			return strings.Compare(ars[i], brs[i])
		}
	}
	return cmp.Compare(len(aas), len(bas))
}

// Cmp orders two version strings. An unparseable version orders before any
// parseable one.
func Cmp(a, b string) int {
	av, err := New(a)
	if err != nil {
		return -1
	}
	bv, err := New(b)
	if err != nil {
		return 1
	}
	switch {
	case av.Major != bv.Major:
		return cmp.Compare(av.Major, bv.Major)
	case av.Minor != bv.Minor:
		return cmp.Compare(av.Minor, bv.Minor)
	case av.Patch != bv.Patch:
		return cmp.Compare(av.Patch, bv.Patch)
	case av.Prerelease != bv.Prerelease:
		return prereleaseCmp(av.Prerelease, bv.Prerelease)
	default:
		// Build metadata does not participate in ordering.
		return 0
	}
}
