package rpcservice

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Daanvdplas/Smoldot/chains"
)

// SubscriptionID is the stable host-facing key of one subscription. IDs
// are allocated from a reusable slot table: the slot index is reused after
// unsubscribe, but the generation tag makes every issued ID distinct, so a
// stale ID held by the host can never alias a newer subscription.
type SubscriptionID string

func encodeSubscriptionID(slot int, gen uint32) SubscriptionID {
	return SubscriptionID(fmt.Sprintf("0x%08x%08x", gen, uint32(slot)))
}

func decodeSubscriptionID(id SubscriptionID) (slot int, gen uint32, ok bool) {
	if len(id) != 18 {
		return 0, 0, false
	}
	var slot32 uint32
	if _, err := fmt.Sscanf(string(id), "0x%08x%08x", &gen, &slot32); err != nil {
		return 0, 0, false
	}
	return int(slot32), gen, true
}

// subscription is one standing notification stream. Engine events flow
// producer task -> queue -> delivery task -> chain responses channel.
type subscription struct {
	id   SubscriptionID
	slot int
	kind subscriptionKind

	// queue is the bounded delivery queue between the engine-side
	// producer and the host-side delivery task.
	queue chan json.RawMessage
	// quit is closed by unsubscribe (host-initiated teardown).
	quit chan struct{}
	// finished is closed by the producer once the stream ended; termErr
	// is set before the close and carries the terminal error, if any.
	finished chan struct{}
	termErr  error
	// drained is closed by the delivery task on exit; unsubscribe waits
	// on it so that no notification is delivered after it returns.
	drained chan struct{}

	mu       sync.Mutex
	upstream chains.Subscription

	quitOnce   sync.Once
	finishOnce sync.Once
}

func newSubscription(id SubscriptionID, slot int, kind subscriptionKind, queueSize int) *subscription {
	return &subscription{
		id:       id,
		slot:     slot,
		kind:     kind,
		queue:    make(chan json.RawMessage, queueSize),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
		drained:  make(chan struct{}),
	}
}

// bind attaches the engine stream once establishment succeeded. Teardown
// may already have begun while the stream was being opened; in that case
// the stream is released right here, since stop and finish saw a nil
// upstream and could not. Unsubscribe on an engine stream is idempotent.
func (s *subscription) bind(upstream chains.Subscription) {
	s.mu.Lock()
	s.upstream = upstream
	s.mu.Unlock()
	select {
	case <-s.quit:
		upstream.Unsubscribe()
	case <-s.finished:
		upstream.Unsubscribe()
	default:
	}
}

func (s *subscription) unsubscribeUpstream() {
	s.mu.Lock()
	upstream := s.upstream
	s.mu.Unlock()
	if upstream != nil {
		upstream.Unsubscribe()
	}
}

// stop begins host-initiated teardown. Idempotent.
func (s *subscription) stop() {
	s.quitOnce.Do(func() {
		close(s.quit)
		s.unsubscribeUpstream()
	})
}

// finish ends the stream from the producer side. A nil err is a natural
// end of stream (e.g. terminal transaction status); a non-nil err is
// reported to the host as the subscription's final notification.
func (s *subscription) finish(err error) {
	s.finishOnce.Do(func() {
		s.termErr = err
		close(s.finished)
		s.unsubscribeUpstream()
	})
}

// enqueue appends a notification payload to the delivery queue. If the
// queue is full the subscription is force-closed with an overflow error:
// explicit failure over silent loss, and the engine is never blocked.
func (s *subscription) enqueue(payload json.RawMessage) bool {
	select {
	case s.queue <- payload:
		return true
	default:
		s.finish(ErrSubscriptionOverflow)
		return false
	}
}

// subscriptionTable is the per-chain registry of active subscriptions.
type subscriptionTable struct {
	mu    sync.Mutex
	slots []*subscription
	gens  []uint32
	free  []int
	max   int
}

func newSubscriptionTable(maxSubscriptions int) *subscriptionTable {
	return &subscriptionTable{max: maxSubscriptions}
}

// add allocates a slot and registers a new subscription.
func (t *subscriptionTable) add(kind subscriptionKind, queueSize int) (*subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var slot int
	switch {
	case len(t.free) > 0:
		slot = t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
	case len(t.slots) < t.max:
		slot = len(t.slots)
		t.slots = append(t.slots, nil)
		t.gens = append(t.gens, 0)
	default:
		return nil, ErrTooManySubscriptions
	}

	t.gens[slot]++
	sub := newSubscription(encodeSubscriptionID(slot, t.gens[slot]), slot, kind, queueSize)
	t.slots[slot] = sub
	return sub, nil
}

func (t *subscriptionTable) get(id SubscriptionID) (*subscription, bool) {
	slot, gen, ok := decodeSubscriptionID(id)
	if !ok {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot >= len(t.slots) || t.slots[slot] == nil || t.gens[slot] != gen {
		return nil, false
	}
	return t.slots[slot], true
}

// remove unregisters the subscription with the given ID and reclaims its
// slot. A second remove for the same ID fails with ErrUnknownSubscription.
func (t *subscriptionTable) remove(id SubscriptionID) (*subscription, error) {
	slot, gen, ok := decodeSubscriptionID(id)
	if !ok {
		return nil, ErrUnknownSubscription
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot >= len(t.slots) || t.slots[slot] == nil || t.gens[slot] != gen {
		return nil, ErrUnknownSubscription
	}
	sub := t.slots[slot]
	t.slots[slot] = nil
	t.free = append(t.free, slot)
	return sub, nil
}

// removeSub unregisters by identity, used for producer-side teardown where
// the subscription may already have been removed by the host. It reports
// whether this call performed the removal.
func (t *subscriptionTable) removeSub(sub *subscription) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub.slot < len(t.slots) && t.slots[sub.slot] == sub {
		t.slots[sub.slot] = nil
		t.free = append(t.free, sub.slot)
		return true
	}
	return false
}

// all snapshots the active subscriptions.
func (t *subscriptionTable) all() []*subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := make([]*subscription, 0, len(t.slots))
	for _, sub := range t.slots {
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	return subs
}

func (t *subscriptionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) - len(t.free)
}
