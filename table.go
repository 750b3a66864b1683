// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package sandpam

import "sync"

// A pending is a single-use reply slot for one outstanding request. The pump
// either delivers exactly one result and closes it, or closes it without a
// value when the pump terminates first.
type pending chan error

func (p pending) close() { close(p) }

func (p pending) deliver(err error) {
	p <- err // does not block, the slot is buffered
	close(p)
}

// A callTable maps request IDs to the reply slots of the callers awaiting
// them. The write loop inserts, the read loop removes. The lock is held only
// for the duration of a single map operation.
type callTable struct {
	μ     sync.Mutex
	next  uint64             // next candidate request ID
	calls map[uint64]pending // request ID → reply slot
}

// insert assigns an ID to pc, records it, and returns the ID.
//
// IDs are assigned from a counter that wraps at the limit of uint64. If the
// counter comes around to an ID that is still pending, that ID is skipped,
// so no two pending requests ever share an ID.
func (t *callTable) insert(pc pending) uint64 {
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.calls == nil {
		t.calls = make(map[uint64]pending)
	}
	id := t.next
	for {
		if _, ok := t.calls[id]; !ok {
			break
		}
		id++
	}
	t.next = id + 1
	t.calls[id] = pc
	return id
}

// remove removes and returns the reply slot for id, if one exists.
func (t *callTable) remove(id uint64) (pending, bool) {
	t.μ.Lock()
	defer t.μ.Unlock()
	pc, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return pc, ok
}

// drain removes and returns all the reply slots remaining in t.
func (t *callTable) drain() []pending {
	t.μ.Lock()
	defer t.μ.Unlock()
	out := make([]pending, 0, len(t.calls))
	for _, pc := range t.calls {
		out = append(out, pc)
	}
	t.calls = nil
	return out
}

// len reports the number of pending calls in t.
func (t *callTable) len() int {
	t.μ.Lock()
	defer t.μ.Unlock()
	return len(t.calls)
}
