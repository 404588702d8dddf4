package rpcservice

import (
	"context"
	"encoding/json"

	"github.com/Daanvdplas/Smoldot/chains"
	"github.com/Daanvdplas/Smoldot/engine"
)

// The query path: cache lookup, deduplication against in-flight calls,
// admission control, upstream execution and response fan-out.

// submitQuery routes one upstream query. The caller's request ID is bound
// to a waiter task; the upstream call itself is issued at most once per
// canonical signature.
func (c *Chain) submitQuery(env *requestEnvelope, def methodDef) error {
	sig := canonicalSignature(c.id, env.Method, env.Params)

	if def.cacheable {
		if result, ok := c.cache.get(sig); ok {
			promCacheHits.WithLabelValues(c.id.String()).Inc()
			c.respond(env.ID, result)
			return nil
		}
		promCacheMisses.WithLabelValues(c.id.String()).Inc()
	}

	call, attached, err := c.dedup.attachOrCreate(sig, c.tryAcquireSlot)
	if err != nil {
		promBusyRejections.WithLabelValues(c.id.String()).Inc()
		return err
	}
	if attached {
		promDedupAttached.WithLabelValues(c.id.String()).Inc()
	}

	c.eng.Go(func(ctx context.Context) {
		if !attached {
			c.runUpstream(ctx, sig, env, def)
		}
		c.awaitAndRespond(ctx, env.ID, call)
	})
	return nil
}

// tryAcquireSlot claims one admission slot without blocking. Called under
// the deduplicator lock so that attach-vs-admit is atomic.
func (c *Chain) tryAcquireSlot() bool {
	select {
	case c.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Chain) releaseSlot() {
	<-c.sem
}

// runUpstream issues the single upstream call behind sig and resolves every
// attached waiter with its outcome.
func (c *Chain) runUpstream(ctx context.Context, sig Signature, env *requestEnvelope, def methodDef) {
	defer c.releaseSlot()

	// Snapshot the invalidation epoch before the call: a result derived
	// from best-block state must not be cached if the best block advanced
	// while the call was in flight.
	epoch := c.cache.bestEpoch()

	result, volatile, err := c.callEngine(ctx, env)
	if err != nil {
		if ctx.Err() != nil {
			err = ErrChainRemoved
		}
		c.dedup.complete(sig, nil, err)
		return
	}
	if def.cacheable {
		c.cache.put(sig, result, volatile, epoch)
	}
	c.dedup.complete(sig, result, nil)
}

// awaitAndRespond parks until the shared call resolves, then answers with
// this waiter's own request ID.
func (c *Chain) awaitAndRespond(ctx context.Context, id json.RawMessage, call *pendingCall) {
	select {
	case <-call.done:
	case <-ctx.Done():
		c.emit(ctx, marshalErrorResponse(id, toProtocolError(ErrChainRemoved)))
		return
	}
	if call.err != nil {
		c.emit(ctx, marshalErrorResponse(id, toProtocolError(call.err)))
		return
	}
	c.emit(ctx, marshalResponse(id, call.result))
}

// callEngine translates one query into the engine call it stands for.
// volatile reports whether the result was derived from best-block state
// rather than an explicitly named block.
func (c *Chain) callEngine(ctx context.Context, env *requestEnvelope) (result json.RawMessage, volatile bool, err error) {
	switch env.Method {
	case "chain_getHeader":
		block, explicit, err := c.blockParam(env.Params, 0)
		if err != nil {
			return nil, false, err
		}
		header, cerr := c.handle.Header(ctx, block)
		if cerr != nil {
			return nil, false, toUpstreamError(cerr)
		}
		return headerPayload(header), !explicit, nil

	case "state_getStorage":
		key, err := hexParam(env.Params, 0, "storage key")
		if err != nil {
			return nil, false, err
		}
		block, explicit, err := c.blockParam(env.Params, 1)
		if err != nil {
			return nil, false, err
		}
		value, cerr := c.handle.QueryStorage(ctx, block, key)
		if cerr != nil {
			return nil, false, toUpstreamError(cerr)
		}
		return storageValuePayload(value), !explicit, nil

	case "state_call":
		method, err := stringParam(env.Params, 0, "runtime entry point")
		if err != nil {
			return nil, false, err
		}
		args, err := hexParam(env.Params, 1, "call data")
		if err != nil {
			return nil, false, err
		}
		block, explicit, err := c.blockParam(env.Params, 2)
		if err != nil {
			return nil, false, err
		}
		ret, cerr := c.handle.CallRuntime(ctx, block, method, args)
		if cerr != nil {
			return nil, false, toUpstreamError(cerr)
		}
		return mustMarshal(hexBytes(ret)), !explicit, nil

	case "state_getRuntimeVersion":
		block, explicit, err := c.blockParam(env.Params, 0)
		if err != nil {
			return nil, false, err
		}
		version, cerr := c.handle.RuntimeVersion(ctx, block)
		if cerr != nil {
			return nil, false, toUpstreamError(cerr)
		}
		return runtimeVersionPayload(version), !explicit, nil

	case "author_submitExtrinsic":
		tx, err := hexParam(env.Params, 0, "extrinsic")
		if err != nil {
			return nil, false, err
		}
		hash, cerr := c.handle.SubmitTransaction(ctx, tx)
		if cerr != nil {
			return nil, false, toUpstreamError(cerr)
		}
		return mustMarshal(hash.String()), false, nil

	default:
		return nil, false, newProtocolError(codeUnknownMethod, "unknown method %q", env.Method)
	}
}

// blockParam resolves an optional block-hash parameter. When absent the
// current best block is used and the result is marked best-block-relative.
func (c *Chain) blockParam(params []json.RawMessage, idx int) (block chains.Hash, explicit bool, err error) {
	if idx < len(params) {
		s, err := stringParam(params, idx, "block hash")
		if err != nil {
			return chains.Hash{}, false, err
		}
		block, herr := chains.HashFromHex(s)
		if herr != nil {
			return chains.Hash{}, false, newProtocolError(codeInvalidParams, "invalid block hash: %v", herr)
		}
		return block, true, nil
	}
	info := c.tracker.Latest()
	if info.BestHash.IsZero() {
		// No head observed yet: the chain state is not queryable.
		return chains.Hash{}, false, toUpstreamError(engine.ErrUnavailable)
	}
	return info.BestHash, false, nil
}

func stringParam(params []json.RawMessage, idx int, what string) (string, error) {
	if idx >= len(params) {
		return "", newProtocolError(codeInvalidParams, "missing %s at position %d", what, idx)
	}
	var s string
	if err := json.Unmarshal(params[idx], &s); err != nil {
		return "", newProtocolError(codeInvalidParams, "%s at position %d must be a string", what, idx)
	}
	return s, nil
}

func hexParam(params []json.RawMessage, idx int, what string) ([]byte, error) {
	s, err := stringParam(params, idx, what)
	if err != nil {
		return nil, err
	}
	b, derr := decodeHex(s)
	if derr != nil {
		return nil, newProtocolError(codeInvalidParams, "invalid %s: %v", what, derr)
	}
	return b, nil
}
