package heads

import (
	"context"
	"sync"

	"github.com/Daanvdplas/Smoldot/chains"
)

// Trackable receives best-head events from the tracker. Callbacks are
// invoked sequentially in head order for a given tracker.
type Trackable interface {
	// OnNewHead is called for every best head the tracker relays. Several
	// consecutive heads may be coalesced into the most recent one when the
	// consumer lags; relative order is never inverted.
	OnNewHead(ctx context.Context, head chains.Header)
}

type callbackSet map[int]Trackable

func (set callbackSet) values() []Trackable {
	values := make([]Trackable, 0, len(set))
	for _, callback := range set {
		values = append(values, callback)
	}
	return values
}

// broadcaster relays best heads to all registered callbacks.
type broadcaster struct {
	mu             sync.Mutex
	callbacks      callbackSet
	latest         chains.ChainInfo
	lastCallbackID int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{callbacks: make(callbackSet)}
}

func (b *broadcaster) subscribe(callback Trackable) (current chains.ChainInfo, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current = b.latest

	b.lastCallbackID++
	callbackID := b.lastCallbackID
	b.callbacks[callbackID] = callback
	unsubscribe = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.callbacks, callbackID)
	}
	return
}

func (b *broadcaster) onBest(head chains.Header) []Trackable {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest.BestNumber = head.Number
	b.latest.BestHash = head.Hash
	return b.callbacks.values()
}

func (b *broadcaster) onFinalized(head chains.Header) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest.FinalizedNumber = head.Number
	b.latest.FinalizedHash = head.Hash
}

func (b *broadcaster) info() chains.ChainInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

func (b *broadcaster) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = make(callbackSet)
}
