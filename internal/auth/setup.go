// Copyright 2025 The Mirror Registry Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/avalon1610/mirror-registry/pkg/db"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

// SetupRoot ensures the root account exists, prompting interactively on
// first run, and returns the shared account salt.
func SetupRoot(d *db.DB) (salt string, err error) {
	root, err := d.RootAccount()
	if err == nil {
		return root.Salt, nil
	} else if !errors.Is(err, db.ErrNoRow) {
		return "", err
	}

	fmt.Print("input super admin username: ")
	reader := bufio.NewReader(os.Stdin)
	username, err := reader.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "reading username")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", errors.New("super admin username must not be empty")
	}

	fmt.Print("input super admin password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}

	salt = RandString(32)
	a := &db.Account{
		Username:    username,
		DisplayName: username,
		Salt:        salt,
		Type:        db.TypeInternal,
		Role:        db.RoleRoot,
		Password:    HA1(username, salt, string(password)),
	}
	if err := d.CreateAccount(a); err != nil {
		return "", err
	}
	return salt, nil
}
