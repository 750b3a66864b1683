// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package worker implements the worker side of a sandpam connection, and
// the plumbing to start a worker process from a host.
//
// A worker reads requests from its channel, runs each through a [Backend],
// and writes back exactly one response per request. It runs until it
// receives the shutdown signal or the client closes the channel, and then
// finishes any requests in flight before returning.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"

	"github.com/creachadair/sandpam"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// A Backend decides the outcome of an authentication request.
//
// Authenticate returns nil to accept the request. To reject it, it returns
// an *sandpam.AuthError with the code to report; any other error is
// reported to the client as sandpam.CodeAuthErr with the text of the error.
type Backend interface {
	Authenticate(context.Context, *sandpam.Request) error
}

// BackendFunc adapts a function to the [Backend] interface.
type BackendFunc func(context.Context, *sandpam.Request) error

// Authenticate implements the [Backend] interface.
func (f BackendFunc) Authenticate(ctx context.Context, req *sandpam.Request) error { return f(ctx, req) }

// Options control the behaviour of a worker. A nil *Options is ready for use
// and provides default values.
type Options struct {
	// Concurrency is the maximum number of requests dispatched to the backend
	// at once. If zero, runtime.NumCPU() is used.
	Concurrency int

	// Logger, if non-nil, receives diagnostic logs from the worker.
	// If nil, the global zerolog logger is used.
	Logger *zerolog.Logger
}

func (o *Options) concurrency() int {
	if o == nil || o.Concurrency <= 0 {
		return runtime.NumCPU()
	}
	return o.Concurrency
}

func (o *Options) logger() zerolog.Logger {
	if o == nil || o.Logger == nil {
		return log.Logger.With().Str("component", "worker").Logger()
	}
	return *o.Logger
}

// Serve services requests from ch using b until the client sends the
// shutdown signal or closes the channel, or ctx ends. Before returning,
// Serve waits for all dispatched requests to be answered, then closes ch.
//
// Serve returns nil after a shutdown signal or a clean close. An invalid
// request is protocol fatal, and Serve reports an error for it.
func Serve(ctx context.Context, ch sandpam.Channel, b Backend, opts *Options) error {
	s := &server{
		ch:  ch,
		b:   b,
		log: opts.logger(),
		sem: make(chan struct{}, opts.concurrency()),
	}

	// A channel does not obey a context, so simulate it by closing the
	// channel if ctx ends. The ok channel releases the watcher when we
	// return before that.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			ch.Close()
		case <-ok:
		}
		return nil
	})

	g := taskgroup.New(nil)
	err := s.loop(ctx, g)
	g.Wait()
	ch.Close()
	if err == nil {
		s.log.Debug().Msg("worker is done")
	}
	return err
}

type server struct {
	b   Backend
	log zerolog.Logger
	sem chan struct{} // concurrency limiter

	out sync.Mutex // held to send on ch
	ch  sandpam.Channel
}

func (s *server) loop(ctx context.Context, g *taskgroup.Group) error {
	for {
		f, err := s.ch.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			} else if isClosed(err) {
				s.log.Debug().Msg("client closed the channel")
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}
		if f.IsShutdown() {
			s.log.Debug().Msg("received shutdown signal")
			return nil
		}

		req := new(sandpam.Request)
		if err := req.UnmarshalBinary(f.Payload); err != nil {
			return fmt.Errorf("invalid request: %w", err)
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		g.Go(func() error {
			defer func() { <-s.sem }()
			s.dispatch(ctx, req)
			return nil
		})
	}
}

// dispatch runs the backend for req and sends the response.
func (s *server) dispatch(ctx context.Context, req *sandpam.Request) {
	err := func() (err error) {
		// Ensure a panic out of the backend is turned into a graceful response.
		defer func() {
			if x := recover(); x != nil {
				err = &sandpam.AuthError{
					Code:    sandpam.CodeSystemErr,
					Message: fmt.Sprintf("backend panicked (recovered): %v", x),
				}
			}
		}()
		return s.b.Authenticate(ctx, req)
	}()

	rsp := sandpam.Response{ID: req.ID}
	var ae *sandpam.AuthError
	if err == nil {
		rsp.Code = sandpam.CodeSuccess
	} else if errors.As(err, &ae) && ae.Code != sandpam.CodeSuccess {
		rsp.Code = ae.Code
		rsp.Message = ae.Message
	} else {
		rsp.Code = sandpam.CodeAuthErr
		rsp.Message = err.Error()
	}
	s.log.Debug().
		Uint64("id", req.ID).
		Str("service", req.Service).
		Str("user", req.User).
		Str("remote", req.RemoteIP).
		Stringer("result", rsp.Code).
		Msg("authenticate")

	s.out.Lock()
	defer s.out.Unlock()
	if err := s.ch.Send(&sandpam.Frame{Payload: rsp.Encode()}); err != nil {
		s.log.Error().Err(err).Uint64("id", req.ID).Msg("writing response")
		s.ch.Close() // protocol fatal
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
