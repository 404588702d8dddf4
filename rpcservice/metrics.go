package rpcservice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_rpc_requests",
		Help: "The total number of requests accepted into a chain's dispatcher",
	}, []string{"chainID", "method"})
	promBusyRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_rpc_busy_rejections",
		Help: "The total number of requests rejected by admission control",
	}, []string{"chainID"})
	promCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_rpc_cache_hits",
		Help: "The total number of requests served from the result cache",
	}, []string{"chainID"})
	promCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_rpc_cache_misses",
		Help: "The total number of cacheable requests not found in the result cache",
	}, []string{"chainID"})
	promDedupAttached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_rpc_dedup_attached",
		Help: "The total number of requests coalesced onto an in-flight upstream call",
	}, []string{"chainID"})
	promActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "light_client_rpc_active_subscriptions",
		Help: "The number of currently active subscriptions",
	}, []string{"chainID", "kind"})
	promSubscriptionOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_rpc_subscription_overflows",
		Help: "The total number of subscriptions force-closed by delivery queue overflow",
	}, []string{"chainID", "kind"})
	promChains = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "light_client_chains",
		Help: "The number of chains currently tracked by the service",
	})
	// PromInvariantViolations reports violation of our assumptions
	PromInvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "light_client_invariant_violations",
		Help: "The number of invariant violations",
	}, []string{"chainID", "invariant"})
)
