// Package authtest provides support code for testing sandpam clients
// against an in-process worker.
package authtest

import (
	"context"
	"strings"

	"github.com/creachadair/sandpam"
	"github.com/creachadair/sandpam/channel"
	"github.com/creachadair/sandpam/worker"
	"github.com/creachadair/taskgroup"
)

// Local is a client handle connected to a worker running in the same
// process, suitable for testing.
type Local struct {
	*sandpam.Auth

	srv *taskgroup.Single[error]
}

// Stop closes the handle, and blocks until both the pump and the worker
// have exited. It reports the first error from either.
func (l *Local) Stop() error {
	cerr := l.Auth.Close()
	werr := l.srv.Wait()
	if cerr != nil {
		return cerr
	}
	return werr
}

// NewLocal creates a handle connected to a worker for b. They communicate
// via a direct channel without encoding.
func NewLocal(b worker.Backend, opts *worker.Options) *Local {
	c, s := channel.Direct()
	return newLocal(c, s, b, opts)
}

// NewPipe creates a handle connected to a worker for b. They communicate via
// a socket pair using the binary encoding.
func NewPipe(b worker.Backend, opts *worker.Options) (*Local, error) {
	local, remote, err := channel.Socketpair()
	if err != nil {
		return nil, err
	}
	conn, err := channel.FromFile(remote)
	remote.Close()
	if err != nil {
		local.Close()
		return nil, err
	}
	return newLocal(channel.IO(local, local), channel.IO(conn, conn), b, opts), nil
}

func newLocal(c, s sandpam.Channel, b worker.Backend, opts *worker.Options) *Local {
	return &Local{
		Auth: sandpam.Attach(c, nil),
		srv: taskgroup.Go(func() error {
			return worker.Serve(context.Background(), s, b, opts)
		}),
	}
}

// Echo is a backend that rejects every request with sandpam.CodeAuthErr and
// a message that echoes the fields of the request, separated by "|" in the
// order service, user, password, remote address. A request whose password
// is "ok" is accepted instead.
var Echo = worker.BackendFunc(func(_ context.Context, req *sandpam.Request) error {
	if req.Pass == "ok" {
		return nil
	}
	return &sandpam.AuthError{
		Code:    sandpam.CodeAuthErr,
		Message: EchoMessage(req.Service, req.User, req.Pass, req.RemoteIP),
	}
})

// EchoMessage returns the message Echo reports for the given request fields.
func EchoMessage(service, user, pass, remoteIP string) string {
	return strings.Join([]string{service, user, pass, remoteIP}, "|")
}
