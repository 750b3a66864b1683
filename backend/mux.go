// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package backend provides implementations of the worker.Backend interface.
//
// # Usage
//
// A [Mux] routes requests to backends by service name, much as a PAM stack
// is chosen by service:
//
//	m := backend.NewMux().
//	  Handle("sshd", db).
//	  Handle("ftp", backend.Static{"anonymous": "guest"})
//
// The empty service name is a wildcard, used for any service that does not
// have a more specific backend:
//
//	m.Handle("", db)
//
// A [DB] checks passwords against crypt(3) hashes loaded from a TOML file:
//
//	[[user]]
//	name = "alice"
//	hash = "$6$..."
//	services = ["sshd", "other"]
//
// See [LoadDB] for the details.
package backend

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/creachadair/sandpam"
	"github.com/creachadair/sandpam/worker"
)

// A Mux routes requests to backends by service name. A zero Mux is empty
// and ready for use. A Mux is safe for concurrent use.
type Mux struct {
	μ   sync.Mutex
	svc map[string]worker.Backend
}

// NewMux constructs a new empty Mux.
func NewMux() *Mux { return new(Mux) }

// Handle registers b for the specified service name, and returns m to permit
// chaining. Passing a nil backend removes any backend for the service.
//
// As a special case, if service == "" the backend is used for any request
// whose service does not have a more specific backend registered.
func (m *Mux) Handle(service string, b worker.Backend) *Mux {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.svc == nil {
		m.svc = make(map[string]worker.Backend)
	}
	if b == nil {
		delete(m.svc, service)
	} else {
		m.svc[service] = b
	}
	return m
}

// Services returns the names of the services registered in m, in order.
// The wildcard, if registered, is reported as "".
func (m *Mux) Services() []string {
	m.μ.Lock()
	defer m.μ.Unlock()
	return slices.Sorted(maps.Keys(m.svc))
}

// Authenticate implements the worker.Backend interface. A request for a
// service with no backend and no wildcard fails with CodeServiceErr.
func (m *Mux) Authenticate(ctx context.Context, req *sandpam.Request) error {
	const wildcard = ""
	m.μ.Lock()
	b, ok := m.svc[req.Service]
	if !ok {
		b, ok = m.svc[wildcard]
	}
	m.μ.Unlock()
	if !ok {
		return &sandpam.AuthError{
			Code:    sandpam.CodeServiceErr,
			Message: fmt.Sprintf("no backend for service %q", req.Service),
		}
	}
	return b.Authenticate(ctx, req)
}
