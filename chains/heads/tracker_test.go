package heads

import (
	"context"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services/servicetest"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/Daanvdplas/Smoldot/chains"
)

type testConfig struct{}

func (testConfig) ResubscribeBackoffMin() time.Duration { return tests.TestInterval }
func (testConfig) ResubscribeBackoffMax() time.Duration { return tests.TestInterval }

type fakeSub struct {
	errCh chan error
	once  sync.Once
	done  chan struct{}
}

func newFakeSub() *fakeSub {
	return &fakeSub{errCh: make(chan error, 1), done: make(chan struct{})}
}

func (s *fakeSub) Unsubscribe() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSub) Err() <-chan error { return s.errCh }

type headStream struct {
	ch  chan chains.Header
	sub *fakeSub
}

type fakeClient struct {
	mu               sync.Mutex
	bestStreams      []*headStream
	finalizedStreams []*headStream
	bestErr          error // returned by the next BestBlocks call, once
}

func (c *fakeClient) BestBlocks(context.Context) (<-chan chains.Header, chains.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bestErr != nil {
		err := c.bestErr
		c.bestErr = nil
		return nil, nil, err
	}
	s := &headStream{ch: make(chan chains.Header, 16), sub: newFakeSub()}
	c.bestStreams = append(c.bestStreams, s)
	return s.ch, s.sub, nil
}

func (c *fakeClient) FinalizedBlocks(context.Context) (<-chan chains.Header, chains.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &headStream{ch: make(chan chains.Header, 16), sub: newFakeSub()}
	c.finalizedStreams = append(c.finalizedStreams, s)
	return s.ch, s.sub, nil
}

func (c *fakeClient) lastBest() *headStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bestStreams[len(c.bestStreams)-1]
}

func (c *fakeClient) bestStreamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bestStreams)
}

func (c *fakeClient) lastFinalized() *headStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalizedStreams[len(c.finalizedStreams)-1]
}

type recorder struct {
	mu    sync.Mutex
	heads []chains.Header
}

func (r *recorder) OnNewHead(_ context.Context, head chains.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heads = append(r.heads, head)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.heads)
}

func header(number uint64) chains.Header {
	var h chains.Header
	h.Number = number
	h.Hash[0] = byte(number)
	return h
}

func TestTracker_TracksChainInfo(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	tracker := NewTracker(logger.Test(t), 1, client, testConfig{})
	servicetest.Run(t, tracker)

	tests.AssertEventually(t, func() bool { return client.bestStreamCount() == 1 })

	client.lastBest().ch <- header(5)
	tests.AssertEventually(t, func() bool { return tracker.Latest().BestNumber == 5 })

	client.lastFinalized().ch <- header(3)
	tests.AssertEventually(t, func() bool { return tracker.Latest().FinalizedNumber == 3 })

	info := tracker.Latest()
	assert.Equal(t, header(5).Hash, info.BestHash)
	assert.Equal(t, header(3).Hash, info.FinalizedHash)
}

func TestTracker_RelaysBestHeadsToCallbacks(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	tracker := NewTracker(logger.Test(t), 1, client, testConfig{})
	servicetest.Run(t, tracker)

	rec := new(recorder)
	_, unsubscribe := tracker.Subscribe(rec)

	tests.AssertEventually(t, func() bool { return client.bestStreamCount() == 1 })
	client.lastBest().ch <- header(1)
	tests.AssertEventually(t, func() bool { return rec.count() >= 1 })

	// After unsubscribe no further heads are relayed.
	unsubscribe()
	client.lastBest().ch <- header(2)
	tests.AssertEventually(t, func() bool { return tracker.Latest().BestNumber == 2 })
	assert.Equal(t, 1, rec.count())
}

func TestTracker_SubscribeReturnsCurrentInfo(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	tracker := NewTracker(logger.Test(t), 1, client, testConfig{})
	servicetest.Run(t, tracker)

	tests.AssertEventually(t, func() bool { return client.bestStreamCount() == 1 })
	client.lastBest().ch <- header(9)
	tests.AssertEventually(t, func() bool { return tracker.Latest().BestNumber == 9 })

	info, unsubscribe := tracker.Subscribe(new(recorder))
	defer unsubscribe()
	assert.Equal(t, uint64(9), info.BestNumber)
}

func TestTracker_ResubscribesAfterStreamFailure(t *testing.T) {
	t.Parallel()
	lggr, observed := logger.TestObserved(t, zap.WarnLevel)
	client := &fakeClient{}
	tracker := NewTracker(lggr, 1, client, testConfig{})
	servicetest.Run(t, tracker)

	tests.AssertEventually(t, func() bool { return client.bestStreamCount() == 1 })
	client.lastBest().sub.errCh <- pkgerrors.New("peer set collapsed")

	tests.AssertEventually(t, func() bool { return client.bestStreamCount() == 2 })
	require.NotZero(t, observed.FilterMessageSnippet("Head stream terminated").Len())

	client.lastBest().ch <- header(7)
	tests.AssertEventually(t, func() bool { return tracker.Latest().BestNumber == 7 })
}

func TestTracker_RetriesFailedSubscribe(t *testing.T) {
	t.Parallel()
	lggr, observed := logger.TestObserved(t, zap.WarnLevel)
	client := &fakeClient{bestErr: pkgerrors.New("not ready")}
	tracker := NewTracker(lggr, 1, client, testConfig{})
	servicetest.Run(t, tracker)

	tests.AssertEventually(t, func() bool { return client.bestStreamCount() == 1 })
	tests.AssertEventually(t, func() bool {
		return observed.FilterMessageSnippet("Failed to subscribe to head stream").Len() > 0
	})

	client.lastBest().ch <- header(4)
	tests.AssertEventually(t, func() bool { return tracker.Latest().BestNumber == 4 })
}

func TestTracker_DropsInvalidHeads(t *testing.T) {
	t.Parallel()
	lggr, observed := logger.TestObserved(t, zap.ErrorLevel)
	client := &fakeClient{}
	tracker := NewTracker(lggr, 1, client, testConfig{})
	servicetest.Run(t, tracker)

	tests.AssertEventually(t, func() bool { return client.bestStreamCount() == 1 })
	client.lastBest().ch <- chains.Header{} // zero hash
	client.lastBest().ch <- header(2)

	tests.AssertEventually(t, func() bool { return tracker.Latest().BestNumber == 2 })
	assert.NotZero(t, observed.FilterMessageSnippet("invalid head").Len())
}
