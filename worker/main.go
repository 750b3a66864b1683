// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/creachadair/sandpam/channel"
	"github.com/rs/zerolog/log"
)

// IsChild reports whether the current process was started by Start.
func IsChild() bool { return os.Getenv(envFD) != "" }

// Run serves the socket inherited from the host process that started this
// worker, using b to decide requests. The concurrency hint from the host is
// used unless opts sets one.
//
// Run clears the environment variables set by Start, so that processes
// started by the backend do not mistake themselves for workers.
func Run(ctx context.Context, b Backend, opts *Options) error {
	fdText := os.Getenv(envFD)
	if fdText == "" {
		return fmt.Errorf("not a worker process (%s is not set)", envFD)
	}
	fd, err := strconv.ParseUint(fdText, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", envFD, err)
	}

	var cfg Options
	if opts != nil {
		cfg = *opts
	}
	if v := os.Getenv(envConcurrency); v != "" && cfg.Concurrency <= 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envConcurrency, err)
		}
		cfg.Concurrency = n
	}
	os.Unsetenv(envFD)
	os.Unsetenv(envConcurrency)

	conn, err := channel.FromFD(uintptr(fd))
	if err != nil {
		return err
	}
	return Serve(ctx, channel.IO(conn, conn), b, &cfg)
}

// Main runs the worker and exits the process, if the current process was
// started by Start; otherwise it returns immediately. A host that starts
// itself as a worker should call Main first thing in its main function:
//
//	func main() {
//	   worker.Main(myBackend)
//	   // ... the rest of the host program
//	}
func Main(b Backend) {
	if !IsChild() {
		return
	}

	// An interrupt from the terminal goes to the whole process group. The host
	// decides when the worker exits, by sending the shutdown signal.
	signal.Ignore(os.Interrupt)

	if err := Run(context.Background(), b, nil); err != nil {
		log.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
	os.Exit(0)
}
