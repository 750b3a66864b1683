// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package worker_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/creachadair/sandpam"
	"github.com/creachadair/sandpam/channel"
	"github.com/creachadair/sandpam/worker"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

// request encodes and sends a request to the worker on ch.
func request(t *testing.T, ch sandpam.Channel, req sandpam.Request) {
	t.Helper()
	if err := ch.Send(&sandpam.Frame{Payload: req.Encode()}); err != nil {
		t.Fatalf("Send request: %v", err)
	}
}

// response receives and decodes a response from the worker on ch.
func response(t *testing.T, ch sandpam.Channel) sandpam.Response {
	t.Helper()
	f, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv response: %v", err)
	}
	var rsp sandpam.Response
	if err := rsp.UnmarshalBinary(f.Payload); err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	return rsp
}

// serve starts a worker for b on a direct channel, and returns the client
// end of the channel and a channel that receives the result of Serve.
func serve(ctx context.Context, b worker.Backend, opts *worker.Options) (sandpam.Channel, <-chan error) {
	c, s := channel.Direct()
	done := make(chan error, 1)
	go func() { done <- worker.Serve(ctx, s, b, opts) }()
	return c, done
}

func TestServe(t *testing.T) {
	defer leaktest.Check(t)()

	b := worker.BackendFunc(func(_ context.Context, req *sandpam.Request) error {
		switch req.User {
		case "ok":
			return nil
		case "panic":
			panic("the floor is lava")
		case "plain":
			return errors.New("no such luck")
		case "zero":
			return &sandpam.AuthError{Code: sandpam.CodeSuccess, Message: "not really"}
		}
		return &sandpam.AuthError{Code: sandpam.CodeCredInsufficient, Message: req.RemoteIP}
	})
	c, done := serve(context.Background(), b, nil)

	tests := []struct {
		user string
		want sandpam.Response
	}{
		{"ok", sandpam.Response{Code: sandpam.CodeSuccess}},
		{"panic", sandpam.Response{
			Code: sandpam.CodeSystemErr, Message: "backend panicked (recovered): the floor is lava",
		}},
		{"plain", sandpam.Response{Code: sandpam.CodeAuthErr, Message: "no such luck"}},
		{"zero", sandpam.Response{Code: sandpam.CodeAuthErr, Message: "SUCCESS: not really"}},
		{"other", sandpam.Response{Code: sandpam.CodeCredInsufficient, Message: "203.0.113.9"}},
	}
	for i, tc := range tests {
		id := uint64(100 + i)
		request(t, c, sandpam.Request{ID: id, User: tc.user, Service: "svc", RemoteIP: "203.0.113.9"})
		tc.want.ID = id
		if diff := cmp.Diff(tc.want, response(t, c)); diff != "" {
			t.Errorf("Response for %q (-want, +got):\n%s", tc.user, diff)
		}
	}

	if err := c.Send(sandpam.Shutdown()); err != nil {
		t.Fatalf("Send shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve: unexpected error: %v", err)
	}
	if f, err := c.Recv(); err == nil {
		t.Errorf("Recv after shutdown: got %v, want error", f)
	}
	c.Close()
}

func TestServeInFlight(t *testing.T) {
	defer leaktest.Check(t)()

	release := make(chan struct{})
	b := worker.BackendFunc(func(context.Context, *sandpam.Request) error {
		<-release
		return nil
	})
	// Both requests must be dispatched before the worker reads the shutdown
	// frame, whatever the number of CPUs.
	c, done := serve(context.Background(), b, &worker.Options{Concurrency: 2})

	// Shutdown stops the worker from reading, but it must still answer the
	// requests it has already accepted.
	request(t, c, sandpam.Request{ID: 1, User: "a"})
	request(t, c, sandpam.Request{ID: 2, User: "b"})
	if err := c.Send(sandpam.Shutdown()); err != nil {
		t.Fatalf("Send shutdown: %v", err)
	}
	select {
	case err := <-done:
		t.Fatalf("Serve returned early: %v", err)
	default:
	}
	close(release)

	got := make(map[uint64]bool)
	for range 2 {
		rsp := response(t, c)
		if rsp.Code != sandpam.CodeSuccess {
			t.Errorf("Response %d: got code %v, want success", rsp.ID, rsp.Code)
		}
		got[rsp.ID] = true
	}
	if diff := cmp.Diff(map[uint64]bool{1: true, 2: true}, got); diff != "" {
		t.Errorf("Response IDs (-want, +got):\n%s", diff)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve: unexpected error: %v", err)
	}
	c.Close()
}

func TestServeBackpressure(t *testing.T) {
	defer leaktest.Check(t)()

	release := make(chan struct{})
	b := worker.BackendFunc(func(context.Context, *sandpam.Request) error {
		<-release
		return nil
	})
	c, done := serve(context.Background(), b, &worker.Options{Concurrency: 1})

	// With one slot busy, the worker stops reading after the second request,
	// so the shutdown frame cannot be delivered until the first completes.
	request(t, c, sandpam.Request{ID: 1, User: "a"})
	request(t, c, sandpam.Request{ID: 2, User: "b"})
	shut := taskgroup.Go(func() error { return c.Send(sandpam.Shutdown()) })
	close(release)

	got := make(map[uint64]bool)
	for range 2 {
		got[response(t, c).ID] = true
	}
	if diff := cmp.Diff(map[uint64]bool{1: true, 2: true}, got); diff != "" {
		t.Errorf("Response IDs (-want, +got):\n%s", diff)
	}
	if err := shut.Wait(); err != nil {
		t.Errorf("Send shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve: unexpected error: %v", err)
	}
	c.Close()
}

func TestServeConcurrency(t *testing.T) {
	defer leaktest.Check(t)()
	const limit = 2
	const numCalls = 10

	var active, peak atomic.Int32
	b := worker.BackendFunc(func(context.Context, *sandpam.Request) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		return nil
	})
	c, done := serve(context.Background(), b, &worker.Options{Concurrency: limit})

	// Read responses concurrently, since the worker blocks sending them.
	rsps := taskgroup.Go(func() error {
		for range numCalls {
			if _, err := c.Recv(); err != nil {
				return err
			}
		}
		return nil
	})
	for i := range numCalls {
		request(t, c, sandpam.Request{ID: uint64(i), User: "u"})
	}
	if err := rsps.Wait(); err != nil {
		t.Fatalf("Reading responses: %v", err)
	}
	c.Close()
	if err := <-done; err != nil {
		t.Errorf("Serve: unexpected error: %v", err)
	}
	if p := peak.Load(); p > limit {
		t.Errorf("Peak concurrency: got %d, want ≤ %d", p, limit)
	}
}

func TestServeInvalid(t *testing.T) {
	defer leaktest.Check(t)()

	c, done := serve(context.Background(), worker.BackendFunc(func(context.Context, *sandpam.Request) error {
		t.Error("Backend called for an invalid request")
		return nil
	}), nil)
	if err := c.Send(&sandpam.Frame{Payload: []byte("bogus")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := <-done; err == nil || !strings.Contains(err.Error(), "invalid request") {
		t.Errorf("Serve: got %v, want invalid request", err)
	}
	c.Close()
}

func TestServeContext(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	c, done := serve(ctx, worker.BackendFunc(func(context.Context, *sandpam.Request) error {
		return nil
	}), nil)
	cancel()

	// The worker closes its end when ctx ends. A direct channel only closes
	// in one direction, so the client must close its end too.
	if f, err := c.Recv(); err == nil {
		t.Errorf("Recv: got %v, want error", f)
	}
	c.Close()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve: got %v, want %v", err, context.Canceled)
	}
}

func TestRunNotChild(t *testing.T) {
	if worker.IsChild() {
		t.Fatal("Test process believes it is a worker")
	}
	err := worker.Run(context.Background(), worker.BackendFunc(nil), nil)
	if err == nil || !strings.Contains(err.Error(), "not a worker") {
		t.Errorf("Run: got %v, want not a worker", err)
	}
}

// pidBackend reports the process ID of the worker in its error message.
var pidBackend = worker.BackendFunc(func(_ context.Context, req *sandpam.Request) error {
	return &sandpam.AuthError{Code: sandpam.CodeAuthErr, Message: strconv.Itoa(os.Getpid())}
})

func ExampleStart() {
	p, err := worker.Start(nil)
	if err != nil {
		panic(err)
	}
	defer p.Close()

	err = p.Authenticate(context.Background(), "login", "alice", "secret", "")
	fmt.Println(err)
	// Output:
	// <nil>
}
