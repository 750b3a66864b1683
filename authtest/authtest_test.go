// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package authtest_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/creachadair/sandpam"
	"github.com/creachadair/sandpam/authtest"
	"github.com/creachadair/sandpam/worker"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
)

func TestEcho(t *testing.T) {
	defer leaktest.Check(t)()

	loc := authtest.NewLocal(authtest.Echo, nil)
	defer func() {
		if err := loc.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()
	ctx := context.Background()

	if err := loc.Authenticate(ctx, "svc", "user", "ok", ""); err != nil {
		t.Errorf("Authenticate: unexpected error: %v", err)
	}
	err := loc.Authenticate(ctx, "svc", "user", "nope", "::1")
	var ae *sandpam.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Authenticate: got %v, want *AuthError", err)
	}
	if want := "svc|user|nope|::1"; ae.Message != want || ae.Code != sandpam.CodeAuthErr {
		t.Errorf("Authenticate: got (%v, %q), want (%v, %q)", ae.Code, ae.Message, sandpam.CodeAuthErr, want)
	}
}

func TestSlowBackend(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		const delay = time.Minute
		slow := worker.BackendFunc(func(ctx context.Context, req *sandpam.Request) error {
			time.Sleep(delay)
			return nil
		})
		loc := authtest.NewLocal(slow, &worker.Options{Concurrency: 4})

		// With four requests allowed at once, eight requests take two rounds.
		start := time.Now()
		g := taskgroup.New(nil)
		for range 8 {
			g.Go(func() error {
				return loc.Authenticate(context.Background(), "svc", "user", "pw", "")
			})
		}
		if err := g.Wait(); err != nil {
			t.Errorf("Authenticate: unexpected error: %v", err)
		}
		if got, want := time.Since(start), 2*delay; got != want {
			t.Errorf("Elapsed time: got %v, want %v", got, want)
		}
		if err := loc.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
}

func TestTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		release := make(chan struct{})
		stuck := worker.BackendFunc(func(context.Context, *sandpam.Request) error {
			<-release
			return nil
		})
		loc := authtest.NewLocal(stuck, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loc.Authenticate(ctx, "svc", "user", "pw", ""); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Authenticate: got %v, want %v", err, context.DeadlineExceeded)
		}

		// Stopping waits for the abandoned request to be answered.
		close(release)
		if err := loc.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
}
