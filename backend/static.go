// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package backend

import (
	"context"
	"crypto/subtle"

	"github.com/creachadair/sandpam"
)

// Static is a backend that maps user names to plaintext passwords. It is
// intended for tests and demonstrations.
type Static map[string]string

// Authenticate implements the worker.Backend interface.
func (s Static) Authenticate(_ context.Context, req *sandpam.Request) error {
	want, ok := s[req.User]
	if !ok {
		return &sandpam.AuthError{Code: sandpam.CodeUserUnknown, Message: "unknown user"}
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(req.Pass)) != 1 {
		return &sandpam.AuthError{Code: sandpam.CodeAuthErr, Message: "invalid password"}
	}
	return nil
}
