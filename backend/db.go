// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/md5_crypt"    // register $1$
	_ "github.com/GehirnInc/crypt/sha256_crypt" // register $5$
	_ "github.com/GehirnInc/crypt/sha512_crypt" // register $6$
	"github.com/creachadair/sandpam"
)

// A User is an entry in a credential database.
type User struct {
	Name string `toml:"name"`

	// Hash is a crypt(3) hash of the password, in one of the formats
	// $6$ (SHA-512), $5$ (SHA-256), or $1$ (MD5). A hash that is empty or
	// begins with "!" or "*" marks the account as locked.
	Hash string `toml:"hash"`

	// Services lists the services the user may authenticate to.
	// If empty, any service is permitted.
	Services []string `toml:"services"`

	// Locked, if true, disables the account.
	Locked bool `toml:"locked"`
}

func (u User) isLocked() bool {
	return u.Locked || u.Hash == "" || strings.HasPrefix(u.Hash, "!") || strings.HasPrefix(u.Hash, "*")
}

type dbFile struct {
	Users []User `toml:"user"`
}

// A DB is a backend that checks passwords against a static database of
// crypt(3) hashes. A DB is safe for concurrent use.
type DB struct {
	users map[string]User
}

// LoadDB reads a TOML credential database from path. The file has one
// [[user]] table per account:
//
//	[[user]]
//	name = "alice"
//	hash = "$6$rounds=5000$salt$..."
//	services = ["sshd"]  # optional
//	locked = false       # optional
func LoadDB(path string) (*DB, error) {
	var raw dbFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return newDB(raw, meta)
}

// ParseDB parses a TOML credential database from text, in the format
// described by LoadDB.
func ParseDB(text string) (*DB, error) {
	var raw dbFile
	meta, err := toml.Decode(text, &raw)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return newDB(raw, meta)
}

func newDB(raw dbFile, meta toml.MetaData) (*DB, error) {
	if keys := meta.Undecoded(); len(keys) != 0 {
		return nil, fmt.Errorf("unknown credential keys: %v", keys)
	}
	db := &DB{users: make(map[string]User, len(raw.Users))}
	for i, u := range raw.Users {
		if u.Name == "" {
			return nil, fmt.Errorf("user %d: missing name", i+1)
		} else if _, ok := db.users[u.Name]; ok {
			return nil, fmt.Errorf("user %d: duplicate name %q", i+1, u.Name)
		}
		if !u.isLocked() && !crypt.IsHashSupported(u.Hash) {
			return nil, fmt.Errorf("user %q: unsupported hash format", u.Name)
		}
		db.users[u.Name] = u
	}
	return db, nil
}

// Len reports the number of users in db.
func (db *DB) Len() int { return len(db.users) }

// Authenticate implements the worker.Backend interface.
func (db *DB) Authenticate(_ context.Context, req *sandpam.Request) error {
	u, ok := db.users[req.User]
	if !ok {
		return &sandpam.AuthError{Code: sandpam.CodeUserUnknown, Message: "unknown user"}
	}
	if u.isLocked() {
		return &sandpam.AuthError{Code: sandpam.CodeAcctExpired, Message: "account is locked"}
	}
	if len(u.Services) != 0 && !slices.Contains(u.Services, req.Service) {
		return &sandpam.AuthError{
			Code:    sandpam.CodePermDenied,
			Message: fmt.Sprintf("service %q not permitted", req.Service),
		}
	}

	err := crypt.NewFromHash(u.Hash).Verify(u.Hash, []byte(req.Pass))
	if errors.Is(err, crypt.ErrKeyMismatch) {
		return &sandpam.AuthError{Code: sandpam.CodeAuthErr, Message: "invalid password"}
	} else if err != nil {
		return &sandpam.AuthError{Code: sandpam.CodeAuthInfoUnavail, Message: err.Error()}
	}
	return nil
}

// Hash generates a crypt(3) hash of password with a random salt, using the
// named scheme: "sha512", "sha256", or "md5".
func Hash(password, scheme string) (string, error) {
	var c crypt.Crypt
	switch scheme {
	case "sha512", "":
		c = crypt.SHA512
	case "sha256":
		c = crypt.SHA256
	case "md5":
		c = crypt.MD5
	default:
		return "", fmt.Errorf("unknown hash scheme %q", scheme)
	}
	return c.New().Generate([]byte(password), nil)
}
