// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package sandpam

import (
	"context"
	"expvar"
	"sync"
	"sync/atomic"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options control the behaviour of a client handle. A nil *Options is ready
// for use and provides default values.
type Options struct {
	// Logger, if non-nil, receives diagnostic logs from the client.
	// If nil, the global zerolog logger is used.
	Logger *zerolog.Logger

	// OnExit, if non-nil, is called once after the pump has stopped, for
	// example to reap a worker process. Its error is reported by the Close
	// call that releases the last handle.
	OnExit func() error
}

func (o *Options) logger() zerolog.Logger {
	if o == nil || o.Logger == nil {
		return log.Logger.With().Str("component", "sandpam").Logger()
	}
	return *o.Logger
}

func (o *Options) onExit() func() error {
	if o == nil {
		return nil
	}
	return o.OnExit
}

// Auth is a handle for issuing authentication requests to a worker. It is
// safe for concurrent use by multiple goroutines.
//
// Use Clone to obtain additional handles sharing the same worker, and Close
// to release a handle. When the last handle sharing a worker is closed, the
// worker is asked to shut down.
type Auth struct {
	*client
	closed atomic.Bool
}

// client is the state shared by all clones of a handle.
type client struct {
	pump   *pump
	log    zerolog.Logger
	onExit func() error
	refs   atomic.Int64

	start sync.Once
	task  func() error              // the deferred pump, until started
	run   *taskgroup.Single[error] // the running pump, once started
}

// Attach constructs a handle that sends requests over ch, which must be
// connected to a worker. The pump that services ch is not started until the
// first call to Authenticate (or Close) on any clone of the handle.
func Attach(ch Channel, opts *Options) *Auth {
	c := &client{
		pump:   newPump(ch, opts.logger()),
		log:    opts.logger(),
		onExit: opts.onExit(),
	}
	c.task = func() error {
		err := c.pump.run()
		if err != nil {
			c.log.Debug().Err(err).Msg("pump exited with error")
		} else {
			c.log.Debug().Msg("pump is done")
		}
		if c.onExit != nil {
			if xerr := c.onExit(); err == nil {
				err = xerr
			}
		}
		return err
	}
	c.refs.Store(1)
	return &Auth{client: c}
}

// startPump starts the pump if it is not already running. Concurrent callers
// wait until the pump has been started by exactly one of them.
func (c *client) startPump() {
	c.start.Do(func() {
		task := c.task
		c.task = nil
		c.log.Debug().Msg("starting pump")
		c.run = taskgroup.Go(task)
	})
}

// Authenticate asks the worker to authenticate user with password pass for
// the given service. If remoteIP != "", it is passed to the worker as the
// address of the remote client.
//
// Authenticate returns nil if authentication succeeded. If the worker
// rejected the attempt, the error is an *AuthError with the code the worker
// reported. If the worker is unreachable the error is ErrSendToServer or
// ErrRecvFromServer. If ctx ends before a result is available, Authenticate
// returns the context error; the worker is not told about the abandoned
// request, and its eventual response is discarded.
func (a *Auth) Authenticate(ctx context.Context, service, user, pass, remoteIP string) (err error) {
	metrics.calls.Add(1)
	defer func() {
		if err != nil {
			metrics.callsFailed.Add(1)
		}
	}()
	if a.closed.Load() {
		return ErrSendToServer
	}
	a.startPump()

	c := &call{
		req: Request{
			User:     user,
			Pass:     pass,
			Service:  service,
			RemoteIP: remoteIP,
		},
		reply: make(pending, 1),
	}
	select {
	case a.pump.reqs <- c:
	case <-a.pump.wdone:
		return ErrSendToServer
	case <-ctx.Done():
		return ctx.Err()
	}

	metrics.callPending.Add(1)
	defer metrics.callPending.Add(-1)

	select {
	case err, ok := <-c.reply:
		if !ok {
			return ErrRecvFromServer
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clone returns a new handle that shares the worker of a. The clone must be
// closed separately. Cloning a closed handle returns a closed handle.
func (a *Auth) Clone() *Auth {
	cp := &Auth{client: a.client}
	if a.closed.Load() {
		cp.closed.Store(true)
		return cp
	}

	// A concurrent Close may release the last reference between the check
	// above and here. Once the count reaches zero it must not be revived.
	for {
		n := a.refs.Load()
		if n <= 0 {
			cp.closed.Store(true)
			return cp
		}
		if a.refs.CompareAndSwap(n, n+1) {
			return cp
		}
	}
}

// Close releases the handle. Further calls to Authenticate on a report
// ErrSendToServer. If a is the last open handle for its worker, Close asks
// the worker to shut down, and blocks until the pump has stopped and the
// exit hook (if any) has run, and reports their status.
//
// Closing a handle more than once is a no-op that reports nil.
func (a *Auth) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if a.refs.Add(-1) > 0 {
		return nil
	}

	// Start the pump even if it was never used, so the worker receives its
	// shutdown signal the same way in every case.
	a.startPump()
	close(a.pump.quit)
	return a.run.Wait()
}

// Metrics returns the metrics map for clients. Metrics are shared by all
// clients in the process.
func (a *Auth) Metrics() *expvar.Map { return metrics.emap }
