// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"

	"github.com/pkg/errors"
)

const accountColumns = `id, username, display_name, salt, email, type, role, password, last_login, token`

func scanAccount(s interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	err := s.Scan(&a.ID, &a.Username, &a.DisplayName, &a.Salt, &a.Email,
		&a.Type, &a.Role, &a.Password, &a.LastLogin, &a.Token)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByToken resolves a publish token to its account.
func (d *DB) GetAccountByToken(token string) (*Account, error) {
	rows, err := d.conn.Query(`SELECT `+accountColumns+` FROM accounts WHERE token = ?`, token)
	if err != nil {
		return nil, errors.Wrap(err, "querying accounts by token")
	}
	defer rows.Close()
	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning account row")
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating account rows")
	}
	switch len(accounts) {
	case 1:
		return accounts[0], nil
	case 0:
		return nil, errors.Wrapf(ErrNoRow, "invalid token")
	default:
		return nil, errors.Errorf("more than one user has token %s, database corrupted", token)
	}
}

// GetAccountByName fetches an account by username.
func (d *DB) GetAccountByName(username string) (*Account, error) {
	row := d.conn.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNoRow, "user %s", username)
	} else if err != nil {
		return nil, errors.Wrapf(err, "getting user %s", username)
	}
	return a, nil
}

// CreateAccount inserts a new account; the username must be unused.
func (d *DB) CreateAccount(a *Account) error {
	if _, err := d.GetAccountByName(a.Username); err == nil {
		return errors.Errorf("account %s already exists", a.Username)
	} else if !errors.Is(err, ErrNoRow) {
		return err
	}
	_, err := d.conn.Exec(`INSERT INTO accounts
		(username, display_name, salt, email, type, role, password, last_login, token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Username, a.DisplayName, a.Salt, a.Email, a.Type, a.Role, a.Password, a.LastLogin, a.Token)
	return errors.Wrapf(err, "inserting account %s", a.Username)
}

// UpdateAccount saves mutable account fields keyed by username.
func (d *DB) UpdateAccount(a *Account) error {
	_, err := d.conn.Exec(`UPDATE accounts SET display_name = ?, salt = ?, email = ?,
		password = ?, last_login = ?, token = ? WHERE username = ?`,
		a.DisplayName, a.Salt, a.Email, a.Password, a.LastLogin, a.Token, a.Username)
	return errors.Wrapf(err, "updating account %s", a.Username)
}

// RootAccount returns the bootstrap root account, or ErrNoRow if the system
// has not been set up yet.
func (d *DB) RootAccount() (*Account, error) {
	row := d.conn.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE role = ? LIMIT 1`, RoleRoot)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNoRow, "no root account")
	} else if err != nil {
		return nil, errors.Wrap(err, "getting root account")
	}
	return a, nil
}
