package rpcservice

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Daanvdplas/Smoldot/chains"
)

// The subscription runtime: stream establishment against the engine, the
// producer pump feeding the bounded delivery queue, the delivery task
// feeding the responses channel, and host-initiated teardown.

// submitSubscribe allocates a subscription slot and starts establishment.
// The success response carrying the subscription ID is emitted before any
// notification of that subscription.
func (c *Chain) submitSubscribe(env *requestEnvelope, def methodDef) error {
	sub, err := c.subs.add(def.subKind, int(c.cfg.SubscriptionQueueSize()))
	if err != nil {
		c.respondError(env.ID, toProtocolError(err))
		return nil
	}
	promActiveSubscriptions.WithLabelValues(c.id.String(), sub.kind.String()).Inc()

	c.eng.Go(func(ctx context.Context) {
		c.establish(ctx, env, def, sub)
	})
	return nil
}

// establish opens the engine stream, answers the subscribe request and then
// becomes the subscription's delivery task.
func (c *Chain) establish(ctx context.Context, env *requestEnvelope, def methodDef, sub *subscription) {
	upstream, err := c.openStream(ctx, env, sub)
	if err != nil {
		if c.subs.removeSub(sub) {
			promActiveSubscriptions.WithLabelValues(c.id.String(), sub.kind.String()).Dec()
		}
		close(sub.drained)
		if ctx.Err() != nil {
			err = ErrChainRemoved
		}
		c.emit(ctx, marshalErrorResponse(env.ID, toProtocolError(err)))
		return
	}
	sub.bind(upstream)

	c.emit(ctx, marshalResponse(env.ID, mustMarshal(string(sub.id))))
	c.deliverLoop(ctx, def.notification, sub)
}

// openStream starts the engine stream for the subscription's kind and spawns
// its producer pump.
func (c *Chain) openStream(ctx context.Context, env *requestEnvelope, sub *subscription) (chains.Subscription, error) {
	switch sub.kind {
	case subNewHeads:
		events, upstream, err := c.handle.BestBlocks(ctx)
		if err != nil {
			return nil, toUpstreamError(err)
		}
		startPump(c, sub, events, upstream, headerPayload, nil)
		return upstream, nil

	case subFinalizedHeads:
		events, upstream, err := c.handle.FinalizedBlocks(ctx)
		if err != nil {
			return nil, toUpstreamError(err)
		}
		startPump(c, sub, events, upstream, headerPayload, nil)
		return upstream, nil

	case subRuntimeVersion:
		events, upstream, err := c.handle.RuntimeVersions(ctx)
		if err != nil {
			return nil, toUpstreamError(err)
		}
		startPump(c, sub, events, upstream, runtimeVersionPayload, nil)
		return upstream, nil

	case subStorage:
		keys, err := storageKeysParam(env.Params)
		if err != nil {
			return nil, err
		}
		events, upstream, cerr := c.handle.StorageChanges(ctx, keys)
		if cerr != nil {
			return nil, toUpstreamError(cerr)
		}
		startPump(c, sub, events, upstream, storageChangePayload, nil)
		return upstream, nil

	case subTransactionStatus:
		tx, err := hexParam(env.Params, 0, "extrinsic")
		if err != nil {
			return nil, err
		}
		events, upstream, cerr := c.handle.SubmitAndWatchTransaction(ctx, tx)
		if cerr != nil {
			return nil, toUpstreamError(cerr)
		}
		startPump(c, sub, events, upstream, txStatusPayload, func(s chains.TransactionStatus) bool {
			return s.Stage.Terminal()
		})
		return upstream, nil

	default:
		return nil, newProtocolError(codeUnknownMethod, "unknown subscription kind")
	}
}

func storageKeysParam(params []json.RawMessage) ([][]byte, error) {
	if len(params) != 1 {
		return nil, newProtocolError(codeInvalidParams, "expected one array of storage keys")
	}
	var hexKeys []string
	if err := json.Unmarshal(params[0], &hexKeys); err != nil {
		return nil, newProtocolError(codeInvalidParams, "storage keys must be an array of hex strings")
	}
	if len(hexKeys) == 0 {
		return nil, newProtocolError(codeInvalidParams, "storage key array is empty")
	}
	keys := make([][]byte, len(hexKeys))
	for i, hk := range hexKeys {
		key, err := decodeHex(hk)
		if err != nil {
			return nil, newProtocolError(codeInvalidParams, "invalid storage key at position %d: %v", i, err)
		}
		keys[i] = key
	}
	return keys, nil
}

// startPump spawns the producer task moving engine events into the delivery
// queue. terminal, when set, ends the stream naturally after the event that
// matches it (transaction watches end at a terminal stage).
func startPump[T any](c *Chain, sub *subscription, events <-chan T, upstream chains.Subscription, payload func(T) json.RawMessage, terminal func(T) bool) {
	c.eng.Go(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.quit:
				return
			case ev, open := <-events:
				if !open {
					sub.finish(nil)
					return
				}
				if !sub.enqueue(payload(ev)) {
					return
				}
				if terminal != nil && terminal(ev) {
					sub.finish(nil)
					return
				}
			case err := <-upstream.Err():
				if err == nil {
					sub.finish(nil)
					return
				}
				sub.finish(toUpstreamError(err))
				return
			}
		}
	})
}

// deliverLoop moves queued notifications onto the chain's responses channel.
// It is the only writer of this subscription's notifications, so ordering on
// the responses channel matches production order. On producer finish it
// drains what was queued, emits the terminal error notification if any and
// retires the subscription.
func (c *Chain) deliverLoop(ctx context.Context, method string, sub *subscription) {
	defer close(sub.drained)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.quit:
			return
		case payload := <-sub.queue:
			if !c.deliver(ctx, sub, marshalNotification(method, sub.id, payload)) {
				return
			}
		case <-sub.finished:
			c.finishDelivery(ctx, method, sub)
			return
		}
	}
}

// finishDelivery flushes the remaining queue, reports the terminal error and
// removes the subscription from the table.
func (c *Chain) finishDelivery(ctx context.Context, method string, sub *subscription) {
	defer func() {
		if c.subs.removeSub(sub) {
			promActiveSubscriptions.WithLabelValues(c.id.String(), sub.kind.String()).Dec()
		}
	}()

	for {
		select {
		case payload := <-sub.queue:
			if !c.deliver(ctx, sub, marshalNotification(method, sub.id, payload)) {
				return
			}
		default:
			if sub.termErr == nil {
				return
			}
			if errors.Is(sub.termErr, ErrSubscriptionOverflow) {
				promSubscriptionOverflows.WithLabelValues(c.id.String(), sub.kind.String()).Inc()
				c.eng.Warnw("Subscription force-closed on delivery queue overflow", "subscriptionID", sub.id)
			}
			c.deliver(ctx, sub, marshalErrorNotification(method, sub.id, toProtocolError(sub.termErr)))
			return
		}
	}
}

// deliver writes one notification, aborting if the host unsubscribes or the
// chain shuts down while the responses channel is full.
func (c *Chain) deliver(ctx context.Context, sub *subscription, msg string) bool {
	select {
	case c.responses <- msg:
		return true
	case <-sub.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

// handleUnsubscribe retires a subscription by ID. After the in-band response
// is emitted no further notification of that subscription is delivered; a
// repeated or foreign ID fails with an unknown-subscription error.
func (c *Chain) handleUnsubscribe(env *requestEnvelope, def methodDef) {
	idStr, err := stringParam(env.Params, 0, "subscription id")
	if err != nil {
		c.respondError(env.ID, toProtocolError(err))
		return
	}
	id := SubscriptionID(idStr)

	if sub, ok := c.subs.get(id); !ok || sub.kind != def.subKind {
		c.respondError(env.ID, toProtocolError(ErrUnknownSubscription))
		return
	}
	sub, rerr := c.subs.remove(id)
	if rerr != nil {
		c.respondError(env.ID, toProtocolError(rerr))
		return
	}
	promActiveSubscriptions.WithLabelValues(c.id.String(), sub.kind.String()).Dec()

	sub.stop()
	// Wait for the delivery task to exit: notifications already handed to
	// the host stay valid, but none follows the response below.
	<-sub.drained

	c.respond(env.ID, json.RawMessage("true"))
}
