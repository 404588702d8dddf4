package rpcservice

import (
	"encoding/json"
	"sync"
)

// pendingCall is one in-flight upstream call. Waiters park on done; result
// and err are immutable once done is closed.
type pendingCall struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// deduper coalesces identical in-flight requests: the first arrival of a
// signature issues the upstream call, later arrivals attach to it and all
// of them observe the same outcome. The map lock is held only for map
// mutation; waiting happens on each call's own done channel, so unrelated
// signatures never contend.
type deduper struct {
	mu      sync.Mutex
	pending map[Signature]*pendingCall
}

func newDeduper() *deduper {
	return &deduper{pending: make(map[Signature]*pendingCall)}
}

// attachOrCreate returns the pending call for sig. attached is true when an
// in-flight call already existed. For a new signature, admit is consulted
// under the lock; if it refuses (admission control), ErrBusy is returned
// and no record is created.
func (d *deduper) attachOrCreate(sig Signature, admit func() bool) (call *pendingCall, attached bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if call, ok := d.pending[sig]; ok {
		return call, true, nil
	}
	if !admit() {
		return nil, false, ErrBusy
	}
	call = &pendingCall{done: make(chan struct{})}
	d.pending[sig] = call
	return call, false, nil
}

// complete resolves the call: the record is removed and every waiter is
// released with the same result or error. Exactly one complete per
// created signature.
func (d *deduper) complete(sig Signature, result json.RawMessage, err error) {
	d.mu.Lock()
	call, ok := d.pending[sig]
	delete(d.pending, sig)
	d.mu.Unlock()

	if !ok {
		return
	}
	call.result = result
	call.err = err
	close(call.done)
}

// failAll resolves every in-flight call with err. Used when the owning
// chain is removed.
func (d *deduper) failAll(err error) {
	d.mu.Lock()
	calls := make([]*pendingCall, 0, len(d.pending))
	for sig, call := range d.pending {
		calls = append(calls, call)
		delete(d.pending, sig)
	}
	d.mu.Unlock()

	for _, call := range calls {
		call.err = err
		close(call.done)
	}
}

func (d *deduper) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
