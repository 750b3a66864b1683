// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package sandpam

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPayload is the largest payload a single frame may carry.
const MaxPayload = 65533

// A Frame is one unit of traffic on the channel between the client and the
// worker. On the wire a frame is a 2-byte big-endian length followed by that
// many bytes of payload. A frame with an empty payload is the shutdown
// signal, sent by the client to ask the worker to exit.
type Frame struct {
	Payload []byte
}

// Shutdown returns a new shutdown frame.
func Shutdown() *Frame { return new(Frame) }

// IsShutdown reports whether f is the shutdown signal.
func (f *Frame) IsShutdown() bool { return len(f.Payload) == 0 }

// WriteTo writes the frame to w in binary format. It satisfies io.WriterTo.
// It panics if the payload exceeds MaxPayload.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	if len(f.Payload) > MaxPayload {
		panic(fmt.Sprintf("sandpam: frame payload is %d bytes > %d", len(f.Payload), MaxPayload))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(f.Payload)))
	nw, err := w.Write(hdr[:])
	if err == nil && len(f.Payload) != 0 {
		var np int
		np, err = w.Write(f.Payload)
		nw += np
	}
	return int64(nw), err
}

// ReadFrom reads a frame from r in binary format. It satisfies io.ReaderFrom.
// If r is exhausted at a frame boundary, ReadFrom reports io.EOF.
func (f *Frame) ReadFrom(r io.Reader) (int64, error) {
	var hdr [2]byte
	nr, err := io.ReadFull(r, hdr[:])
	if err == io.EOF {
		return 0, err
	} else if err != nil {
		return int64(nr), fmt.Errorf("short frame header: %w", err)
	}

	f.Payload = nil
	if size := binary.BigEndian.Uint16(hdr[:]); size > 0 {
		f.Payload = make([]byte, int(size))
		var np int
		np, err = io.ReadFull(r, f.Payload)
		nr += np
		if err != nil {
			err = fmt.Errorf("short frame payload: %w", noEOF(err))
		}
	}
	return int64(nr), err
}

// String returns a human-friendly rendering of the frame.
func (f *Frame) String() string {
	if f.IsShutdown() {
		return "Frame(SHUTDOWN)"
	}
	return fmt.Sprintf("Frame(%d bytes)", len(f.Payload))
}

// noEOF converts io.EOF into io.ErrUnexpectedEOF, since a frame that ends
// partway through is never a clean end of stream.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// A Channel is a reliable ordered stream of frames shared by the client and
// the worker.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send the frame in binary format to the receiver.
	Send(*Frame) error

	// Receive the next available frame from the channel.
	Recv() (*Frame, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}
