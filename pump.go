// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package sandpam

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// A call is a request waiting in the queue together with its reply slot.
type call struct {
	req   Request
	reply pending
}

// A pump moves requests from the queue to the worker, and responses from the
// worker back to their callers. It runs as two loops sharing one channel
// and one call table.
type pump struct {
	ch  Channel
	log zerolog.Logger

	reqs  chan *call    // rendezvous queue from the handles
	quit  chan struct{} // closed when the last handle is closed
	wdone chan struct{} // closed when the write loop exits
	rdone chan struct{} // closed when the read loop exits

	calls callTable
}

func newPump(ch Channel, log zerolog.Logger) *pump {
	return &pump{
		ch:    ch,
		log:   log,
		reqs:  make(chan *call),
		quit:  make(chan struct{}),
		wdone: make(chan struct{}),
		rdone: make(chan struct{}),
	}
}

// run runs the write and read loops and blocks until both have exited.
// Any reply slots still pending at that point are closed, so their callers
// see ErrRecvFromServer.
func (p *pump) run() error {
	g := taskgroup.New(nil)
	g.Go(p.writeLoop)
	g.Go(p.readLoop)
	err := g.Wait()

	dropped := p.calls.drain()
	for _, pc := range dropped {
		pc.close()
	}
	if len(dropped) != 0 {
		p.log.Warn().Int("dropped", len(dropped)).Msg("pump stopped with calls pending")
	}
	return err
}

// writeLoop writes queued requests to the worker until the last handle is
// closed, the read loop exits, or a write fails.
func (p *pump) writeLoop() error {
	defer close(p.wdone)
	for {
		select {
		case <-p.quit:
			// All handles are closed. Ask the worker to exit; the read loop
			// keeps collecting responses until the worker closes its end.
			p.log.Debug().Msg("sending shutdown to worker")
			if err := p.ch.Send(Shutdown()); err != nil {
				p.log.Error().Err(err).Msg("sending shutdown to worker")
				p.ch.Close()
			}
			return nil

		case <-p.rdone:
			return nil

		case c := <-p.reqs:
			c.req.ID = p.calls.insert(c.reply)

			// N.B. Encode panics if the request is too large for a frame.
			if err := p.ch.Send(&Frame{Payload: c.req.Encode()}); err != nil {
				// The worker has probably gone away. Closing the channel stops the
				// read loop too, and the pending slot is dropped when both exit.
				metrics.sendErrors.Add(1)
				p.log.Error().Err(err).Uint64("id", c.req.ID).Msg("writing request to worker")
				p.ch.Close()
				return fmt.Errorf("write request %d: %w", c.req.ID, err)
			}
			metrics.reqSent.Add(1)
		}
	}
}

// readLoop delivers responses from the worker to their callers until the
// channel closes or fails.
func (p *pump) readLoop() error {
	defer close(p.rdone)
	defer p.ch.Close()
	for {
		f, err := p.ch.Recv()
		if err != nil {
			if !isClosed(err) {
				p.log.Error().Err(err).Msg("reading from worker")
				return fmt.Errorf("read response: %w", err)
			}
			select {
			case <-p.quit:
				p.log.Debug().Msg("worker closed the channel")
			default:
				p.log.Error().Msg("worker closed the channel unexpectedly")
			}
			return nil
		}

		var rsp Response
		if err := rsp.UnmarshalBinary(f.Payload); err != nil {
			// The worker does not speak our protocol, and there is no way to
			// resynchronize the stream.
			panic(fmt.Sprintf("sandpam: invalid response from worker: %v", err))
		}
		metrics.rspRecv.Add(1)

		pc, ok := p.calls.remove(rsp.ID)
		if !ok {
			// Silently discard responses for unknown request IDs.
			metrics.rspDropped.Add(1)
			p.log.Debug().Uint64("id", rsp.ID).Msg("discarding response for unknown request")
			continue
		}
		pc.deliver(rsp.Err())
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
