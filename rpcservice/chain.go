package rpcservice

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/Daanvdplas/Smoldot/chains"
	"github.com/Daanvdplas/Smoldot/chains/heads"
	"github.com/Daanvdplas/Smoldot/engine"
	"github.com/Daanvdplas/Smoldot/rpcservice/config"
)

// Chain owns one tracked ledger: its engine handle, head tracker, request
// dispatcher, deduplicator, result cache and subscription table. Every
// task it spawns is scoped to its own service engine, so removing the
// chain cancels all of them and Close waits for the drain.
type Chain struct {
	services.Service
	eng *services.Engine

	id     chains.ID
	spec   *chains.Spec
	handle engine.Engine
	cfg    *config.ServiceConfig

	tracker       *heads.Tracker
	unsubTracker  func()
	intakeStopped atomic.Bool

	// sem bounds the number of concurrently outstanding distinct
	// upstream calls (admission control). Deduplicated arrivals bypass
	// it: they add no new upstream work.
	sem   chan struct{}
	dedup *deduper
	cache *resultCache
	subs  *subscriptionTable

	responses chan string
}

func newChain(lggr logger.Logger, id chains.ID, spec *chains.Spec, handle engine.Engine, caps engine.Capabilities, cfg *config.ServiceConfig) (*Chain, error) {
	cache, err := newResultCache(int(cfg.CacheCapacity()), caps.Now)
	if err != nil {
		return nil, err
	}
	lggr = logger.With(lggr, "chainID", id.String(), "chain", spec.Name)
	c := &Chain{
		id:        id,
		spec:      spec,
		handle:    handle,
		cfg:       cfg,
		tracker:   heads.NewTracker(lggr, id, handle, cfg),
		sem:       make(chan struct{}, cfg.MaxConcurrentRequests()),
		dedup:     newDeduper(),
		cache:     cache,
		subs:      newSubscriptionTable(int(cfg.MaxSubscriptions())),
		responses: make(chan string, cfg.ResponseQueueSize()),
	}
	c.Service, c.eng = services.Config{
		Name:  "Chain",
		Start: c.start,
		Close: c.close,
	}.NewServiceEngine(lggr)
	return c, nil
}

func (c *Chain) start(ctx context.Context) error {
	var ms services.MultiStart
	if err := ms.Start(ctx, c.tracker); err != nil {
		return err
	}
	_, c.unsubTracker = c.tracker.Subscribe(c)
	return nil
}

// close runs after every chain task has been cancelled and has exited.
func (c *Chain) close() error {
	c.stopIntake()
	c.unsubTracker()

	// Requests still pending at this point were already answered with a
	// chain-removed error by their own tasks; this clears the records.
	c.dedup.failAll(ErrChainRemoved)

	// Force-close remaining subscriptions with a chain-removed terminal
	// notification. Best effort: teardown never blocks on a slow host.
	perr := toProtocolError(ErrChainRemoved)
	for _, sub := range c.subs.all() {
		sub.stop()
		method := notificationMethod(sub.kind)
		select {
		case c.responses <- marshalErrorNotification(method, sub.id, perr):
		default:
			c.eng.Warnw("Dropped chain-removed notification", "subscriptionID", sub.id)
		}
		if c.subs.removeSub(sub) {
			promActiveSubscriptions.WithLabelValues(c.id.String(), sub.kind.String()).Dec()
		}
	}

	err := services.CloseAll(c.tracker, c.handle)
	close(c.responses)
	return err
}

// stopIntake synchronously stops acceptance of new requests and
// subscriptions. Existing work keeps draining.
func (c *Chain) stopIntake() {
	c.intakeStopped.Store(true)
}

func (c *Chain) ID() chains.ID {
	return c.id
}

func (c *Chain) Name() string {
	return c.spec.Name
}

// Info returns the latest best/finalized pointers observed on this chain.
func (c *Chain) Info() chains.ChainInfo {
	return c.tracker.Latest()
}

// Responses returns the merged response/notification stream of this chain.
// The channel is closed once the chain has been removed and drained.
func (c *Chain) Responses() <-chan string {
	return c.responses
}

// OnNewHead implements heads.Trackable: every best-block advance
// invalidates the best-block-relative half of the result cache.
func (c *Chain) OnNewHead(ctx context.Context, head chains.Header) {
	c.cache.invalidateBestBlockRelative()
}

// Submit accepts one textual request object. It returns ErrBusy when the
// chain's admission bound is reached (the host should retry) and
// ErrChainRemoved after removal; all other failures are answered in-band
// on the Responses stream. An accepted request receives exactly one
// terminal outcome.
//
// The body runs under the chain engine's state machine: once Close is
// allowed to proceed, no Submit can spawn a response task or touch the
// responses channel anymore.
func (c *Chain) Submit(request []byte) error {
	var derr error
	if err := c.eng.IfNotStopped(func() error {
		derr = c.dispatch(request)
		return nil
	}); err != nil {
		return ErrChainRemoved
	}
	return derr
}

func (c *Chain) dispatch(request []byte) error {
	if c.intakeStopped.Load() {
		return ErrChainRemoved
	}

	env, perr := parseRequest(request)
	if perr != nil {
		c.respondError(json.RawMessage("null"), perr)
		return nil
	}

	def, ok := methodTable[env.Method]
	if !ok {
		c.respondError(env.ID, newProtocolError(codeUnknownMethod, "unknown method %q", env.Method))
		return nil
	}
	promRequests.WithLabelValues(c.id.String(), env.Method).Inc()

	switch def.kind {
	case methodLocal:
		result, perr := c.localResult(env)
		if perr != nil {
			c.respondError(env.ID, perr)
			return nil
		}
		c.respond(env.ID, result)
		return nil
	case methodQuery:
		return c.submitQuery(env, def)
	case methodSubscribe:
		return c.submitSubscribe(env, def)
	case methodUnsubscribe:
		c.handleUnsubscribe(env, def)
		return nil
	default:
		// The method table is a closed enumeration; an unmatched kind is
		// a programming error.
		PromInvariantViolations.WithLabelValues(c.id.String(), "methodKind").Inc()
		c.eng.Criticalw("Unhandled method kind", "method", env.Method)
		c.respondError(env.ID, newProtocolError(codeUnknownMethod, "unknown method %q", env.Method))
		return nil
	}
}

// localResult serves methods that never leave the chain object.
func (c *Chain) localResult(env *requestEnvelope) (json.RawMessage, *ProtocolError) {
	switch env.Method {
	case "system_chain":
		return mustMarshal(c.spec.Name), nil
	case "system_properties":
		if len(c.spec.Properties) == 0 {
			return json.RawMessage("null"), nil
		}
		return c.spec.Properties, nil
	case "chain_getBlockHash":
		if len(env.Params) != 0 {
			return nil, newProtocolError(codeInvalidParams, "chain_getBlockHash: only the latest block is supported")
		}
		info := c.tracker.Latest()
		if info.BestHash.IsZero() {
			return json.RawMessage("null"), nil
		}
		return mustMarshal(info.BestHash.String()), nil
	default:
		return nil, newProtocolError(codeUnknownMethod, "unknown method %q", env.Method)
	}
}

// respond delivers a success response asynchronously, preserving the
// host-supplied request ID.
func (c *Chain) respond(id json.RawMessage, result json.RawMessage) {
	msg := marshalResponse(id, result)
	c.eng.Go(func(ctx context.Context) {
		c.emit(ctx, msg)
	})
}

func (c *Chain) respondError(id json.RawMessage, perr *ProtocolError) {
	msg := marshalErrorResponse(id, perr)
	c.eng.Go(func(ctx context.Context) {
		c.emit(ctx, msg)
	})
}

// emit writes one wire object to the responses channel. It applies
// backpressure while the chain is alive and degrades to best effort
// during shutdown so teardown can never deadlock on a slow host.
func (c *Chain) emit(ctx context.Context, msg string) {
	select {
	case c.responses <- msg:
	case <-ctx.Done():
		select {
		case c.responses <- msg:
		default:
			c.eng.Warnw("Dropped response during shutdown")
		}
	}
}
