// Package heads tracks one chain's best and finalized head streams from the
// sync engine, keeps the latest chain info and relays best heads to
// registered callbacks (cache invalidation, local method state).
package heads

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/mailbox"

	"github.com/Daanvdplas/Smoldot/chains"
)

var (
	promNumHeadsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_heads_received",
		Help: "The total number of best heads received from the sync engine",
	}, []string{"chainID"})
	promNumFinalizedHeadsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_finalized_heads_received",
		Help: "The total number of finalized heads received from the sync engine",
	}, []string{"chainID"})
	promStreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_head_stream_errors",
		Help: "The total number of engine head stream failures",
	}, []string{"chainID", "stream"})
	promBestBlockNumber = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "light_client_best_block_number",
		Help: "The best block number most recently reported by the sync engine",
	}, []string{"chainID"})
	promFinalizedBlockNumber = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "light_client_finalized_block_number",
		Help: "The finalized block number most recently reported by the sync engine",
	}, []string{"chainID"})
)

var errStreamClosed = errors.New("head stream prematurely closed")

// Client is the subset of the engine handle the tracker consumes.
type Client interface {
	BestBlocks(ctx context.Context) (<-chan chains.Header, chains.Subscription, error)
	FinalizedBlocks(ctx context.Context) (<-chan chains.Header, chains.Subscription, error)
}

type TrackerConfig interface {
	ResubscribeBackoffMin() time.Duration
	ResubscribeBackoffMax() time.Duration
}

// Tracker owns the chain-level head streams. It resubscribes with backoff
// when a stream fails, so chain info stays live for the whole chain
// lifetime even across engine hiccups.
type Tracker struct {
	services.Service
	eng *services.Engine

	chainID chains.ID
	client  Client
	cfg     TrackerConfig

	b *broadcaster
	// bestMailbox decouples the stream loop from callback execution; when
	// callbacks lag, intermediate heads are coalesced into the latest one.
	bestMailbox *mailbox.Mailbox[chains.Header]
}

func NewTracker(lggr logger.Logger, chainID chains.ID, client Client, cfg TrackerConfig) *Tracker {
	t := &Tracker{
		chainID:     chainID,
		client:      client,
		cfg:         cfg,
		b:           newBroadcaster(),
		bestMailbox: mailbox.NewSingle[chains.Header](),
	}
	t.Service, t.eng = services.Config{
		Name:  "HeadTracker",
		Start: t.start,
		Close: t.close,
	}.NewServiceEngine(logger.With(lggr, "chainID", chainID.String()))
	return t
}

func (t *Tracker) start(context.Context) error {
	t.eng.Go(func(ctx context.Context) {
		t.streamLoop(ctx, "best", t.client.BestBlocks, t.handleBest)
	})
	t.eng.Go(func(ctx context.Context) {
		t.streamLoop(ctx, "finalized", t.client.FinalizedBlocks, t.handleFinalized)
	})
	t.eng.Go(t.relayLoop)
	return nil
}

func (t *Tracker) close() error {
	t.b.clear()
	return nil
}

// Subscribe registers a best-head callback and returns the current chain
// info along with an unsubscribe function.
func (t *Tracker) Subscribe(callback Trackable) (chains.ChainInfo, func()) {
	return t.b.subscribe(callback)
}

// Latest returns the most recent chain info observed on the head streams.
func (t *Tracker) Latest() chains.ChainInfo {
	return t.b.info()
}

type subscribeFunc func(ctx context.Context) (<-chan chains.Header, chains.Subscription, error)

// streamLoop keeps one engine head stream alive, resubscribing with backoff
// after failures. It exits only when the chain is being shut down.
func (t *Tracker) streamLoop(ctx context.Context, name string, subscribe subscribeFunc, handle func(chains.Header)) {
	retry := backoff.Backoff{
		Min:    t.cfg.ResubscribeBackoffMin(),
		Max:    t.cfg.ResubscribeBackoffMax(),
		Jitter: true,
	}

	for {
		heads, sub, err := subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			promStreamErrors.WithLabelValues(t.chainID.String(), name).Inc()
			t.eng.Warnw("Failed to subscribe to head stream", "stream", name, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry.Duration()):
				continue
			}
		}
		retry.Reset()
		t.eng.Debugf("Subscribed to %s heads", name)

		err = t.receiveHeads(ctx, heads, sub, handle)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return
		}
		promStreamErrors.WithLabelValues(t.chainID.String(), name).Inc()
		t.eng.Errorw("Head stream terminated, resubscribing", "stream", name, "err", err)
	}
}

func (t *Tracker) receiveHeads(ctx context.Context, heads <-chan chains.Header, sub chains.Subscription, handle func(chains.Header)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case head, open := <-heads:
			if !open {
				return errStreamClosed
			}
			if !head.IsValid() {
				t.eng.Error("got invalid head from engine")
				continue
			}
			handle(head)
		case err := <-sub.Err():
			if err == nil {
				return errStreamClosed
			}
			return err
		}
	}
}

func (t *Tracker) handleBest(head chains.Header) {
	promNumHeadsReceived.WithLabelValues(t.chainID.String()).Inc()
	promBestBlockNumber.WithLabelValues(t.chainID.String()).Set(float64(head.Number))
	t.bestMailbox.Deliver(head)
}

func (t *Tracker) handleFinalized(head chains.Header) {
	promNumFinalizedHeadsReceived.WithLabelValues(t.chainID.String()).Inc()
	promFinalizedBlockNumber.WithLabelValues(t.chainID.String()).Set(float64(head.Number))
	t.b.onFinalized(head)
}

func (t *Tracker) relayLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.bestMailbox.Notify():
			head, exists := t.bestMailbox.Retrieve()
			if !exists {
				continue
			}
			callbacks := t.b.onBest(head)
			for _, callback := range callbacks {
				callback.OnNewHead(ctx, head)
			}
		}
	}
}
