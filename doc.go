// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package sandpam runs PAM-style authentication checks in a separate worker
// process, so that unstable or untrusted authentication modules never load
// into the address space of the host.
//
// The host talks to the worker over a private socket. Many goroutines may
// issue authentication requests at the same time; a single pump multiplexes
// all of them onto the socket and routes each reply back to its caller.
//
// # Handles
//
// The core type defined by this package is the [Auth] handle. To spawn a
// worker process and obtain a handle, use the worker package:
//
//	a, err := worker.Start(&worker.StartOptions{Concurrency: 4})
//	if err != nil {
//	   log.Fatalf("Start worker: %v", err)
//	}
//	defer a.Close()
//
// Start should be called early in main, before the host acquires resources
// that must not leak into the worker.
//
// To authenticate a user:
//
//	err := a.Authenticate(ctx, "other", "alice", "secret", "10.0.0.1")
//	if errors.Is(err, sandpam.ErrRecvFromServer) {
//	   // the worker died while the request was in flight
//	}
//
// A handle is safe for concurrent use. Use [Auth.Clone] to share the worker
// with another owner, and [Auth.Close] to release a handle. Closing the last
// handle sends the worker a shutdown signal and waits for it to exit.
//
// The pump behind a handle does not start until the first request. It stops
// when the worker closes the socket, when a read or write on the socket
// fails, or after the shutdown signal once the worker has exited. Requests
// still in flight when the pump stops report [ErrRecvFromServer].
//
// # Protocol
//
// Each message is a [Frame]: a 2-byte big-endian length followed by up to
// [MaxPayload] bytes. The empty frame is the shutdown signal. A [Request]
// carries an ID chosen by the pump, and the worker answers it with exactly
// one [Response] carrying the same ID. Responses may arrive in any order.
//
// Violations of the protocol are not reported as errors: encoding a request
// too large for a frame, or receiving a response that does not decode, will
// panic, since either means the two sides can no longer agree on the stream.
//
// # Metrics
//
// Clients maintain a collection of metrics, shared by all handles in the
// process. Use [Auth.Metrics] to obtain an [expvar.Map] of:
//
//   - calls: counter of Authenticate calls
//   - calls_failed: counter of Authenticate calls reporting an error
//   - calls_pending: gauge of calls waiting for a response
//   - requests_sent: counter of request frames written
//   - responses_received: counter of response frames read
//   - responses_dropped: counter of responses discarded for an unknown ID
//   - send_errors: counter of failed writes to the worker
package sandpam
