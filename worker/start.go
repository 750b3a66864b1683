// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/creachadair/sandpam"
	"github.com/creachadair/sandpam/channel"
	"github.com/rs/zerolog"
)

// Environment variables used to hand the socket and settings to a worker.
const (
	envFD          = "SANDPAM_WORKER_FD"
	envConcurrency = "SANDPAM_WORKER_CONCURRENCY"
)

// The worker's end of the socket is always the first of cmd.ExtraFiles.
const childFD = 3

// StartOptions control how a worker process is started. A nil *StartOptions
// is ready for use and provides default values.
type StartOptions struct {
	// Path is the executable to run as the worker. If empty, the current
	// executable is re-executed, and its main function must call Main (or
	// Run) before doing anything else.
	Path string

	// Args are the command-line arguments passed to the worker, not
	// including the program name.
	Args []string

	// Env are additional environment variables for the worker, in the form
	// "key=value". The worker inherits the environment of the host.
	Env []string

	// Concurrency, if positive, is a hint for the number of requests the
	// worker should process at once.
	Concurrency int

	// Stderr receives the standard error of the worker. If nil, the worker
	// shares the standard error of the host.
	Stderr io.Writer

	// Logger, if non-nil, receives diagnostic logs from the client.
	Logger *zerolog.Logger
}

func (o *StartOptions) path() (string, error) {
	if o == nil || o.Path == "" {
		return os.Executable()
	}
	return o.Path, nil
}

func (o *StartOptions) stderr() io.Writer {
	if o == nil || o.Stderr == nil {
		return os.Stderr
	}
	return o.Stderr
}

func (o *StartOptions) opts() (args, env []string, n int, lg *zerolog.Logger) {
	if o == nil {
		return nil, nil, 0, nil
	}
	return o.Args, o.Env, o.Concurrency, o.Logger
}

// A Process is a client handle connected to a worker process.
type Process struct {
	*sandpam.Auth

	cmd *exec.Cmd
}

// Pid reports the process ID of the worker.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Start starts a worker process connected to the host by a private socket,
// and returns a handle to it. Start reports an error without retrying if
// the worker cannot be started.
//
// The pump for the handle is not started until the handle is first used.
// Closing the last handle shuts down the worker and waits for it to exit.
//
// Start reports an error if it would re-execute the current program from
// within a worker process, which means the program did not call Main.
func Start(opts *StartOptions) (*Process, error) {
	if IsChild() && (opts == nil || opts.Path == "") {
		// Re-executing ourselves from a worker would start another worker that
		// does the same, without end.
		return nil, errors.New("worker: Start called in a worker process; call worker.Main first")
	}
	path, err := opts.path()
	if err != nil {
		return nil, fmt.Errorf("locate worker: %w", err)
	}
	args, env, n, lg := opts.opts()

	local, remote, err := channel.Socketpair()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.ExtraFiles = []*os.File{remote} // becomes childFD
	cmd.Env = append(os.Environ(), envFD+"="+strconv.Itoa(childFD))
	if n > 0 {
		cmd.Env = append(cmd.Env, envConcurrency+"="+strconv.Itoa(n))
	}
	cmd.Env = append(cmd.Env, env...)
	cmd.Stderr = opts.stderr()

	err = cmd.Start()
	remote.Close() // the child has its own copy
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}

	auth := sandpam.Attach(channel.IO(local, local), &sandpam.Options{
		Logger: lg,
		OnExit: func() error {
			local.Close()
			if err := cmd.Wait(); err != nil {
				return fmt.Errorf("worker exited: %w", err)
			}
			return nil
		},
	})
	return &Process{Auth: auth, cmd: cmd}, nil
}
