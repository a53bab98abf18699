// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

// Package db stores crate rows and user accounts in a SQLite database.
package db

import (
	"database/sql"
	_ "embed"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// ErrNoRow indicates a lookup that matched nothing.
var ErrNoRow = errors.New("no matching row")

// DB wraps the registry database. Callers are expected to serialize writes;
// the service holds every handler's database access behind one lock.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// SQLite permits one writer; a single pooled connection avoids busy
	// errors under the coarse service lock.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "applying schema")
	}
	return &DB{conn: conn}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}
