// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the sandpam.Channel interface,
// and helpers to set up the socket shared by a client and its worker.
package channel

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/creachadair/sandpam"
	"github.com/prep/socketpair"
)

// Direct constructs a connected pair of in-memory channels, one for a client
// and one for a worker, that hand *sandpam.Frame values across without the
// binary framing. Frames sent on A are received on B and vice versa.
//
// Each direction is unbuffered, so a Send completes only when the other side
// receives the frame, much like a write to a socket with no spare buffer.
// Closing one end closes only its sending direction: the peer's Recv then
// reports net.ErrClosed, which a client pump or worker treats as the other
// side going away. A shutdown frame is passed through like any other frame.
func Direct() (A, B sandpam.Channel) {
	a2b := make(chan *sandpam.Frame)
	b2a := make(chan *sandpam.Frame)
	A = direct{a2b: a2b, b2a: b2a}
	B = direct{a2b: b2a, b2a: a2b}
	return
}

type direct struct {
	a2b chan<- *sandpam.Frame
	b2a <-chan *sandpam.Frame
}

// Send delivers f to the peer. It reports net.ErrClosed if this end has been
// closed.
func (d direct) Send(f *sandpam.Frame) (err error) {
	defer safeClose(&err)
	d.a2b <- f
	return nil
}

// Recv waits for the next frame from the peer. It reports net.ErrClosed once
// the peer has closed its end.
func (d direct) Recv() (*sandpam.Frame, error) {
	f, ok := <-d.b2a
	if !ok {
		return nil, net.ErrClosed
	}
	return f, nil
}

// Close stops this end from sending. Closing it twice reports net.ErrClosed.
func (d direct) Close() (err error) {
	defer safeClose(&err)
	close(d.a2b)
	return nil
}

// safeClose turns the panic from using a closed Go channel into
// net.ErrClosed.
func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that reads length-prefixed frames from r and writes
// them to wc, in the wire format of [sandpam.Frame]. Typically r and wc are
// the same socket, such as the host's end of a [Socketpair] or the worker's
// socket recovered by [FromFD].
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives frames on a reader and a writer. Each Send
// writes one complete frame and flushes it, so each frame reaches the peer
// as soon as it is sent.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send writes f to the underlying writer and flushes it. It panics if the
// payload of f exceeds sandpam.MaxPayload.
func (c IOChannel) Send(f *sandpam.Frame) error {
	if _, err := f.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv reads the next frame. It reports io.EOF if the peer closed the
// stream at a frame boundary, and an error wrapping io.ErrUnexpectedEOF if
// it closed it partway through a frame.
func (c IOChannel) Recv() (*sandpam.Frame, error) {
	var f sandpam.Frame
	if _, err := f.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &f, nil
}

// Close closes the underlying writer, which for a socket ends both
// directions and unblocks a pending Recv.
func (c IOChannel) Close() error { return c.c.Close() }

// Socketpair creates a connected pair of Unix stream sockets. It returns the
// local end as a net.Conn, and the remote end as a file suitable for
// passing to a child process via exec.Cmd.ExtraFiles. The caller must close
// the file once the child has started.
func Socketpair() (net.Conn, *os.File, error) {
	local, remote, err := socketpair.New("unix")
	if err != nil {
		return nil, nil, fmt.Errorf("create socketpair: %w", err)
	}
	defer remote.Close() // the file is a duplicate

	fc, ok := remote.(interface{ File() (*os.File, error) })
	if !ok {
		local.Close()
		return nil, nil, fmt.Errorf("socketpair: unexpected connection type %T", remote)
	}
	f, err := fc.File()
	if err != nil {
		local.Close()
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return local, f, nil
}

// FromFD returns a connection for the socket at file descriptor fd, which
// was inherited from the parent process. The descriptor is closed.
func FromFD(fd uintptr) (net.Conn, error) {
	f := os.NewFile(fd, fmt.Sprintf("sandpam-fd-%d", fd))
	if f == nil {
		return nil, fmt.Errorf("invalid file descriptor %d", fd)
	}
	defer f.Close()
	return FromFile(f)
}

// FromFile returns a connection for the socket open on f. The connection
// uses a duplicate of the descriptor, so the caller remains responsible for
// closing f.
func FromFile(f *os.File) (net.Conn, error) {
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("socket from %s: %w", f.Name(), err)
	}
	return conn, nil
}
