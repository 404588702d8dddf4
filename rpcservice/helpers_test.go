package rpcservice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services/servicetest"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/Daanvdplas/Smoldot/chains"
	"github.com/Daanvdplas/Smoldot/engine"
	"github.com/Daanvdplas/Smoldot/rpcservice/config"
)

func testHash(b byte) chains.Hash {
	var h chains.Hash
	h[0] = b
	h[31] = b
	return h
}

func testHeader(number uint64) chains.Header {
	return chains.Header{
		Hash:       testHash(byte(number)),
		ParentHash: testHash(byte(number - 1)),
		Number:     number,
	}
}

func testSpec(name string) []byte {
	return []byte(fmt.Sprintf(`{"name":%q,"genesisHash":%q}`, name, testHash(0x91)))
}

type fakeSub struct {
	errCh        chan error
	unsubscribed chan struct{}
	once         sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{errCh: make(chan error, 1), unsubscribed: make(chan struct{})}
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.unsubscribed) })
}

func (s *fakeSub) Err() <-chan error {
	return s.errCh
}

// headStream is one handed-out best/finalized stream. Every caller of
// BestBlocks/FinalizedBlocks gets its own, the way a real engine fans out.
type headStream struct {
	ch  chan chains.Header
	sub *fakeSub
}

// fakeEngine is a scriptable in-process sync engine. Streams are fed by the
// test through the feed helpers; one-shot calls run the corresponding
// function field.
type fakeEngine struct {
	streamsMu        sync.Mutex
	bestStreams      []*headStream
	finalizedStreams []*headStream

	versionCh chan chains.RuntimeVersion
	storageCh chan chains.StorageChange
	statusCh  chan chains.TransactionStatus

	versionSub *fakeSub
	storageSub *fakeSub
	statusSub  *fakeSub

	headerFn  func(context.Context, chains.Hash) (chains.Header, error)
	storageFn func(context.Context, chains.Hash, []byte) ([]byte, error)
	callFn    func(context.Context, chains.Hash, string, []byte) ([]byte, error)
	versionFn func(context.Context, chains.Hash) (chains.RuntimeVersion, error)
	submitFn  func(context.Context, []byte) (chains.Hash, error)

	watchedKeys [][]byte

	headerCalls  atomic.Int32
	storageCalls atomic.Int32
	submitCalls  atomic.Int32
	closed       atomic.Bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		versionCh:  make(chan chains.RuntimeVersion, 16),
		storageCh:  make(chan chains.StorageChange, 16),
		statusCh:   make(chan chains.TransactionStatus, 16),
		versionSub: newFakeSub(),
		storageSub: newFakeSub(),
		statusSub:  newFakeSub(),
		headerFn: func(_ context.Context, block chains.Hash) (chains.Header, error) {
			return chains.Header{Hash: block, ParentHash: testHash(1), Number: 42}, nil
		},
		storageFn: func(context.Context, chains.Hash, []byte) ([]byte, error) {
			return []byte{0xde, 0xad}, nil
		},
		callFn: func(context.Context, chains.Hash, string, []byte) ([]byte, error) {
			return []byte{0x01}, nil
		},
		versionFn: func(context.Context, chains.Hash) (chains.RuntimeVersion, error) {
			return chains.RuntimeVersion{SpecName: "test", SpecVersion: 7}, nil
		},
		submitFn: func(_ context.Context, tx []byte) (chains.Hash, error) {
			return testHash(0x7a), nil
		},
	}
}

func (e *fakeEngine) BestBlocks(context.Context) (<-chan chains.Header, chains.Subscription, error) {
	s := &headStream{ch: make(chan chains.Header, 16), sub: newFakeSub()}
	e.streamsMu.Lock()
	e.bestStreams = append(e.bestStreams, s)
	e.streamsMu.Unlock()
	return s.ch, s.sub, nil
}

func (e *fakeEngine) FinalizedBlocks(context.Context) (<-chan chains.Header, chains.Subscription, error) {
	s := &headStream{ch: make(chan chains.Header, 16), sub: newFakeSub()}
	e.streamsMu.Lock()
	e.finalizedStreams = append(e.finalizedStreams, s)
	e.streamsMu.Unlock()
	return s.ch, s.sub, nil
}

func (e *fakeEngine) feedBest(h chains.Header) {
	e.streamsMu.Lock()
	streams := append([]*headStream(nil), e.bestStreams...)
	e.streamsMu.Unlock()
	for _, s := range streams {
		s.ch <- h
	}
}

func (e *fakeEngine) feedFinalized(h chains.Header) {
	e.streamsMu.Lock()
	streams := append([]*headStream(nil), e.finalizedStreams...)
	e.streamsMu.Unlock()
	for _, s := range streams {
		s.ch <- h
	}
}

func (e *fakeEngine) bestStreamCount() int {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	return len(e.bestStreams)
}

func (e *fakeEngine) finalizedStreamCount() int {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	return len(e.finalizedStreams)
}

func (e *fakeEngine) RuntimeVersions(context.Context) (<-chan chains.RuntimeVersion, chains.Subscription, error) {
	return e.versionCh, e.versionSub, nil
}

func (e *fakeEngine) StorageChanges(_ context.Context, keys [][]byte) (<-chan chains.StorageChange, chains.Subscription, error) {
	e.watchedKeys = keys
	return e.storageCh, e.storageSub, nil
}

func (e *fakeEngine) Header(ctx context.Context, block chains.Hash) (chains.Header, error) {
	e.headerCalls.Add(1)
	return e.headerFn(ctx, block)
}

func (e *fakeEngine) QueryStorage(ctx context.Context, block chains.Hash, key []byte) ([]byte, error) {
	e.storageCalls.Add(1)
	return e.storageFn(ctx, block, key)
}

func (e *fakeEngine) CallRuntime(ctx context.Context, block chains.Hash, method string, args []byte) ([]byte, error) {
	return e.callFn(ctx, block, method, args)
}

func (e *fakeEngine) RuntimeVersion(ctx context.Context, block chains.Hash) (chains.RuntimeVersion, error) {
	return e.versionFn(ctx, block)
}

func (e *fakeEngine) SubmitTransaction(ctx context.Context, tx []byte) (chains.Hash, error) {
	e.submitCalls.Add(1)
	return e.submitFn(ctx, tx)
}

func (e *fakeEngine) SubmitAndWatchTransaction(context.Context, []byte) (<-chan chains.TransactionStatus, chains.Subscription, error) {
	return e.statusCh, e.statusSub, nil
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

// newTestChain spins up a service with a single chain backed by the given
// fake engine. Both are shut down with the test.
func newTestChain(t *testing.T, fake *fakeEngine) (*Service, *Chain) {
	return newTestChainWithConfig(t, fake, nil)
}

func newTestChainWithConfig(t *testing.T, fake *fakeEngine, cfg *config.ServiceConfig) (*Service, *Chain) {
	t.Helper()
	svc := New(logger.Test(t), cfg, engine.DefaultCapabilities(), func(context.Context, *chains.Spec, engine.Capabilities) (engine.Engine, error) {
		return fake, nil
	})
	servicetest.Run(t, svc)

	ch, err := svc.AddChain(tests.Context(t), testSpec("testnet"))
	require.NoError(t, err)
	return svc, ch
}

// wireMessage is the decoded shape of anything emitted on Responses.
type wireMessage struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *ProtocolError  `json:"error"`
	Method string          `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
		Error        *ProtocolError  `json:"error"`
	} `json:"params"`
}

func awaitMessage(t *testing.T, ch *Chain) wireMessage {
	t.Helper()
	ctx := tests.Context(t)
	select {
	case raw, open := <-ch.Responses():
		require.True(t, open, "responses channel closed")
		var msg wireMessage
		require.NoError(t, json.Unmarshal([]byte(raw), &msg))
		return msg
	case <-ctx.Done():
		t.Fatal("timed out waiting for a response")
		return wireMessage{}
	}
}

// awaitResponse skips notifications until the response for the given request
// ID arrives.
func awaitResponse(t *testing.T, ch *Chain, id string) wireMessage {
	t.Helper()
	for {
		msg := awaitMessage(t, ch)
		if msg.Method != "" {
			continue
		}
		if string(msg.ID) == id {
			return msg
		}
	}
}

func submit(t *testing.T, ch *Chain, id int, method string, params string) {
	t.Helper()
	req := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q`, id, method)
	if params != "" {
		req += `,"params":` + params
	}
	req += "}"
	require.NoError(t, ch.Submit([]byte(req)))
}

// feedBestHead pushes a best head through the fake engine and waits until
// the chain observed it. A head fed before the tracker registered its
// stream would be lost, so registration is awaited first.
func feedBestHead(t *testing.T, fake *fakeEngine, ch *Chain, number uint64) {
	t.Helper()
	tests.AssertEventually(t, func() bool { return fake.bestStreamCount() > 0 })
	fake.feedBest(testHeader(number))
	tests.AssertEventually(t, func() bool {
		return ch.Info().BestNumber == number
	})
}

func feedFinalizedHead(t *testing.T, fake *fakeEngine, ch *Chain, number uint64) {
	t.Helper()
	tests.AssertEventually(t, func() bool { return fake.finalizedStreamCount() > 0 })
	fake.feedFinalized(testHeader(number))
	tests.AssertEventually(t, func() bool {
		return ch.Info().FinalizedNumber == number
	})
}
