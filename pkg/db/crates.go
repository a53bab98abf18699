// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/avalon1610/mirror-registry/internal/semver"
	"github.com/avalon1610/mirror-registry/pkg/index"
	"github.com/pkg/errors"
)

// DefaultPerPage is the page size used when a client does not send per_page.
const DefaultPerPage = 10

const crateColumns = `id, name, updated_at, versions, keywords, categories, created_at,
	downloads, recent_downloads, max_version, newest_version, max_stable_version,
	description, homepage, documentation, repository, owners`

func scanCrate(s interface{ Scan(...any) error }, extra ...any) (*Crate, error) {
	var c Crate
	dest := []any{
		&c.ID, &c.Name, &c.UpdatedAt, &c.Versions, &c.Keywords, &c.Categories,
		&c.CreatedAt, &c.Downloads, &c.RecentDownloads, &c.MaxVersion,
		&c.NewestVersion, &c.MaxStableVersion, &c.Description, &c.Homepage,
		&c.Documentation, &c.Repository, &c.Owners,
	}
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	return &c, nil
}

// SearchCrates runs a case-insensitive substring match on crate name or
// description. Total count comes from a single windowed query. Shortest names
// sort first. Pages are 1-based; values below 1 are clamped.
func (d *DB) SearchCrates(q string, perPage, page int64) (crates []*Crate, total int64, err error) {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if page < 1 {
		page = 1
	}
	pattern := "%" + q + "%"
	rows, err := d.conn.Query(`SELECT *, COUNT(*) OVER () FROM (
		SELECT `+crateColumns+` FROM crates
		WHERE name LIKE ? OR description LIKE ?
		ORDER BY length(name) ASC
	) LIMIT ? OFFSET ?`, pattern, pattern, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, errors.Wrap(err, "searching crates")
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCrate(rows, &total)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scanning crate row")
		}
		crates = append(crates, c)
	}
	return crates, total, errors.Wrap(rows.Err(), "iterating crate rows")
}

// ReplaceCrates upserts rows fetched from an upstream search so later queries
// are answered locally. Upstream rows keep Owners nil.
func (d *DB) ReplaceCrates(crates []*Crate) error {
	stmt, err := d.conn.Prepare(`REPLACE INTO crates (` + crateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "preparing replace")
	}
	defer stmt.Close()
	for _, c := range crates {
		if c.ID == "" {
			c.ID = c.Name
		}
		if _, err := stmt.Exec(c.ID, c.Name, c.UpdatedAt, c.Versions, c.Keywords,
			c.Categories, c.CreatedAt, c.Downloads, c.RecentDownloads, c.MaxVersion,
			c.NewestVersion, c.MaxStableVersion, c.Description, c.Homepage,
			c.Documentation, c.Repository, c.Owners); err != nil {
			return errors.Wrapf(err, "replacing crate %s", c.Name)
		}
	}
	return nil
}

// GetCrate fetches a crate row by name.
func (d *DB) GetCrate(name string) (*Crate, error) {
	row := d.conn.QueryRow(`SELECT `+crateColumns+` FROM crates WHERE name = ?`, name)
	c, err := scanCrate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNoRow, "crate %s", name)
	} else if err != nil {
		return nil, errors.Wrapf(err, "getting crate %s", name)
	}
	return c, nil
}

// UpsertOnPublish records a publish in the crates table. New rows start with
// zeroed counters and the publisher as sole owner; existing rows keep their
// counters, created_at, and owners and take the published metadata. The new
// version is always the max version since Append enforced monotonicity.
func (d *DB) UpsertOnPublish(info index.CrateInfo, user string) error {
	now := time.Now().Format(time.RFC3339)
	keywords := strings.Join(info.Keywords, ",")
	categories := strings.Join(info.Categories, ",")
	vers, err := semver.New(info.Vers)
	if err != nil {
		return errors.Wrapf(err, "parsing version %s", info.Vers)
	}

	existing, err := d.GetCrate(info.Name)
	if err != nil && !errors.Is(err, ErrNoRow) {
		return err
	}
	var maxStable *string
	if vers.Stable() {
		maxStable = &info.Vers
	} else if existing != nil {
		maxStable = existing.MaxStableVersion
	}
	c := Crate{
		ID:               info.Name,
		Name:             info.Name,
		UpdatedAt:        now,
		Keywords:         &keywords,
		Categories:       &categories,
		CreatedAt:        now,
		MaxVersion:       info.Vers,
		NewestVersion:    info.Vers,
		MaxStableVersion: maxStable,
		Description:      info.Description,
		Homepage:         info.Homepage,
		Documentation:    info.Documentation,
		Repository:       info.Repository,
	}
	if existing != nil {
		c.Versions = existing.Versions
		c.CreatedAt = existing.CreatedAt
		c.Downloads = existing.Downloads
		c.RecentDownloads = existing.RecentDownloads
		c.Owners = existing.Owners
	} else {
		owners := user
		c.Owners = &owners
	}
	return d.ReplaceCrates([]*Crate{&c})
}

// GetOwners resolves owner usernames to accounts, preserving only usernames
// that exist.
func (d *DB) GetOwners(usernames []string) ([]*Account, error) {
	var accounts []*Account
	for _, u := range usernames {
		a, err := d.GetAccountByName(u)
		if errors.Is(err, ErrNoRow) {
			continue
		} else if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// AddOwner appends users to a crate's owner list. Added users must exist and
// must not already be owners.
func (d *DB) AddOwner(name string, oldOwners, newOwners []string) error {
	for _, u := range newOwners {
		if _, err := d.GetAccountByName(u); errors.Is(err, ErrNoRow) {
			return errors.Errorf("user %s not exists, can not be an owner of %s", u, name)
		} else if err != nil {
			return err
		}
	}
	for _, o := range oldOwners {
		for _, u := range newOwners {
			if o == u {
				return errors.Errorf("%s already in the owner list of %s", o, name)
			}
		}
	}
	owners := strings.Join(append(oldOwners, newOwners...), ",")
	return d.setOwners(name, owners)
}

// RemoveOwner drops users from a crate's owner list. Every removed user must
// currently be an owner. The caller refuses to drop the last owner.
func (d *DB) RemoveOwner(name string, oldOwners, removeOwners []string) error {
	for _, r := range removeOwners {
		found := false
		for _, o := range oldOwners {
			if o == r {
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("%s not in the owner list of %s", r, name)
		}
	}
	var kept []string
	for _, o := range oldOwners {
		remove := false
		for _, r := range removeOwners {
			if o == r {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, o)
		}
	}
	return d.setOwners(name, strings.Join(kept, ","))
}

func (d *DB) setOwners(name, owners string) error {
	res, err := d.conn.Exec(`UPDATE crates SET owners = ? WHERE name = ?`, owners, name)
	if err != nil {
		return errors.Wrapf(err, "updating owners of %s", name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNoRow, "crate %s", name)
	}
	return nil
}
