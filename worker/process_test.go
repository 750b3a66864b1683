// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package worker_test

import (
	"context"
	"errors"
	"expvar"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/sandpam"
	"github.com/creachadair/sandpam/backend"
	"github.com/creachadair/sandpam/worker"
	"github.com/creachadair/taskgroup"
)

// When the test binary is started by worker.Start, it serves this backend
// instead of running tests.
var testBackend = backend.NewMux().
	Handle("", backend.Static{"alice": "secret"}).
	Handle("pid", pidBackend).
	Handle("hang", worker.BackendFunc(func(ctx context.Context, _ *sandpam.Request) error {
		<-ctx.Done()
		return ctx.Err()
	}))

func TestMain(m *testing.M) {
	worker.Main(testBackend)
	os.Exit(m.Run())
}

func TestStart(t *testing.T) {
	p, err := worker.Start(&worker.StartOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Logf("Worker pid is %d", p.Pid())
	ctx := context.Background()

	if err := p.Authenticate(ctx, "login", "alice", "secret", "192.0.2.1"); err != nil {
		t.Errorf("Authenticate alice: unexpected error: %v", err)
	}
	if err := p.Authenticate(ctx, "login", "alice", "wrong", ""); !errors.Is(err, &sandpam.AuthError{Code: sandpam.CodeAuthErr}) {
		t.Errorf("Authenticate alice: got %v, want AUTH_ERR", err)
	}
	if err := p.Authenticate(ctx, "login", "bob", "secret", ""); !errors.Is(err, &sandpam.AuthError{Code: sandpam.CodeUserUnknown}) {
		t.Errorf("Authenticate bob: got %v, want USER_UNKNOWN", err)
	}

	// Requests are answered by the worker process, not by this one.
	err = p.Authenticate(ctx, "pid", "alice", "secret", "")
	var ae *sandpam.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Authenticate pid: got %v, want *AuthError", err)
	}
	if want := strconv.Itoa(p.Pid()); ae.Message != want {
		t.Errorf("Worker pid: got %q, want %q", ae.Message, want)
	}

	// The worker exits cleanly when the last handle is closed.
	c := p.Clone()
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Authenticate(ctx, "login", "alice", "secret", ""); err != nil {
		t.Errorf("Authenticate via clone: unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close clone: %v", err)
	}
}

func TestWorkerKilled(t *testing.T) {
	p, err := worker.Start(nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	pending := p.Metrics().Get("calls_pending").(*expvar.Int)
	base := pending.Value()

	call := taskgroup.Go(func() error {
		return p.Authenticate(context.Background(), "hang", "alice", "secret", "")
	})

	// Wait for the request to be handed to the pump before killing the worker.
	deadline := time.Now().Add(10 * time.Second)
	for pending.Value() == base {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the request to be sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	proc, err := os.FindProcess(p.Pid())
	if err != nil {
		t.Fatalf("Find worker: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill worker: %v", err)
	}

	if err := call.Wait(); !errors.Is(err, sandpam.ErrRecvFromServer) {
		t.Errorf("Authenticate: got %v, want %v", err, sandpam.ErrRecvFromServer)
	}
	if err := p.Authenticate(context.Background(), "login", "alice", "secret", ""); !errors.Is(err, sandpam.ErrSendToServer) {
		t.Errorf("Authenticate after kill: got %v, want %v", err, sandpam.ErrSendToServer)
	}
	if err := p.Close(); err == nil {
		t.Error("Close: got nil, want exit error")
	} else {
		t.Logf("Close: %v (OK)", err)
	}
}

func TestStartFailure(t *testing.T) {
	p, err := worker.Start(&worker.StartOptions{Path: "/nonexistent/sandpam-worker"})
	if err == nil {
		p.Close()
		t.Fatal("Start: got nil error for a missing executable")
	}
	t.Logf("Start: %v (OK)", err)
}

func TestStartInWorker(t *testing.T) {
	// Pretend this process was started as a worker that skipped Main.
	t.Setenv("SANDPAM_WORKER_FD", "3")

	p, err := worker.Start(nil)
	if err == nil {
		p.Close()
		t.Fatal("Start: got nil error in a worker process")
	}
	if !strings.Contains(err.Error(), "call worker.Main first") {
		t.Errorf("Start: got %v, want call worker.Main first", err)
	}

	// An explicit worker program is still allowed, and fails here only
	// because it does not exist.
	_, err = worker.Start(&worker.StartOptions{Path: "/nonexistent/sandpam-worker"})
	if err == nil || strings.Contains(err.Error(), "call worker.Main first") {
		t.Errorf("Start with a path: got %v, want a start error", err)
	}
}
