package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Daanvdplas/Smoldot/chains"
)

var (
	engineLatencyBuckets = []float64{
		float64(10 * time.Millisecond),
		float64(50 * time.Millisecond),
		float64(100 * time.Millisecond),
		float64(250 * time.Millisecond),
		float64(500 * time.Millisecond),
		float64(1 * time.Second),
		float64(2 * time.Second),
		float64(5 * time.Second),
		float64(10 * time.Second),
		float64(30 * time.Second),
	}
	promEngineCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "light_client_engine_call_duration",
		Help:    "Measures duration of calls into the sync engine",
		Buckets: engineLatencyBuckets,
	}, []string{"chainID", "call"})
	promEngineCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_engine_call_errors",
		Help: "The total number of sync engine calls that returned an error",
	}, []string{"chainID", "call"})
)

// Observed wraps an Engine and records per-call latency and error metrics.
// It performs no caching or deduplication; those live upstream in the
// dispatcher.
type Observed struct {
	Engine
	chainID string
}

// NewObserved decorates the engine handle of the given chain.
func NewObserved(e Engine, chainID chains.ID) *Observed {
	return &Observed{Engine: e, chainID: chainID.String()}
}

func withObservedCall[T any](o *Observed, call string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	promEngineCallDuration.
		WithLabelValues(o.chainID, call).
		Observe(float64(time.Since(start)))
	if err != nil {
		promEngineCallErrors.WithLabelValues(o.chainID, call).Inc()
	}
	return result, err
}

func (o *Observed) Header(ctx context.Context, block chains.Hash) (chains.Header, error) {
	return withObservedCall(o, "Header", func() (chains.Header, error) {
		return o.Engine.Header(ctx, block)
	})
}

func (o *Observed) QueryStorage(ctx context.Context, block chains.Hash, key []byte) ([]byte, error) {
	return withObservedCall(o, "QueryStorage", func() ([]byte, error) {
		return o.Engine.QueryStorage(ctx, block, key)
	})
}

func (o *Observed) CallRuntime(ctx context.Context, block chains.Hash, method string, args []byte) ([]byte, error) {
	return withObservedCall(o, "CallRuntime", func() ([]byte, error) {
		return o.Engine.CallRuntime(ctx, block, method, args)
	})
}

func (o *Observed) RuntimeVersion(ctx context.Context, block chains.Hash) (chains.RuntimeVersion, error) {
	return withObservedCall(o, "RuntimeVersion", func() (chains.RuntimeVersion, error) {
		return o.Engine.RuntimeVersion(ctx, block)
	})
}

func (o *Observed) SubmitTransaction(ctx context.Context, tx []byte) (chains.Hash, error) {
	return withObservedCall(o, "SubmitTransaction", func() (chains.Hash, error) {
		return o.Engine.SubmitTransaction(ctx, tx)
	})
}
