package config

import (
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/config"
)

// ServiceConfig is a wrapper to provide required functions while keeping
// configs public.
type ServiceConfig struct {
	Service
}

// Service holds the deployment tunables of the light client service layer.
// The numeric bounds are configuration, not part of the protocol contract.
type Service struct {
	// Per-chain admission control: maximum concurrently outstanding
	// distinct upstream calls. Requests deduplicating against an
	// in-flight signature are accepted regardless of this bound.
	MaxConcurrentRequests *uint32
	// Per-chain subscription table capacity.
	MaxSubscriptions *uint32
	// Per-subscription delivery queue capacity; overflow force-closes
	// the subscription.
	SubscriptionQueueSize *uint32
	// Per-chain merged response/notification channel capacity.
	ResponseQueueSize *uint32
	// Per-segment LRU capacity of the result cache.
	CacheCapacity *uint32

	// Head stream resubscription backoff.
	ResubscribeBackoffMin *config.Duration
	ResubscribeBackoffMax *config.Duration
}

// NewDefault returns the default deployment configuration.
func NewDefault() *ServiceConfig {
	return &ServiceConfig{Service{
		MaxConcurrentRequests: ptr(uint32(16)),
		MaxSubscriptions:      ptr(uint32(64)),
		SubscriptionQueueSize: ptr(uint32(64)),
		ResponseQueueSize:     ptr(uint32(256)),
		CacheCapacity:         ptr(uint32(32)),
		ResubscribeBackoffMin: config.MustNewDuration(time.Second),
		ResubscribeBackoffMax: config.MustNewDuration(15 * time.Second),
	}}
}

func (c *ServiceConfig) MaxConcurrentRequests() uint32 {
	return *c.Service.MaxConcurrentRequests
}

func (c *ServiceConfig) MaxSubscriptions() uint32 {
	return *c.Service.MaxSubscriptions
}

func (c *ServiceConfig) SubscriptionQueueSize() uint32 {
	return *c.Service.SubscriptionQueueSize
}

func (c *ServiceConfig) ResponseQueueSize() uint32 {
	return *c.Service.ResponseQueueSize
}

func (c *ServiceConfig) CacheCapacity() uint32 {
	return *c.Service.CacheCapacity
}

func (c *ServiceConfig) ResubscribeBackoffMin() time.Duration {
	return c.Service.ResubscribeBackoffMin.Duration()
}

func (c *ServiceConfig) ResubscribeBackoffMax() time.Duration {
	return c.Service.ResubscribeBackoffMax.Duration()
}

func (c *ServiceConfig) SetFrom(f *ServiceConfig) {
	if f.Service.MaxConcurrentRequests != nil {
		c.Service.MaxConcurrentRequests = f.Service.MaxConcurrentRequests
	}
	if f.Service.MaxSubscriptions != nil {
		c.Service.MaxSubscriptions = f.Service.MaxSubscriptions
	}
	if f.Service.SubscriptionQueueSize != nil {
		c.Service.SubscriptionQueueSize = f.Service.SubscriptionQueueSize
	}
	if f.Service.ResponseQueueSize != nil {
		c.Service.ResponseQueueSize = f.Service.ResponseQueueSize
	}
	if f.Service.CacheCapacity != nil {
		c.Service.CacheCapacity = f.Service.CacheCapacity
	}
	if f.Service.ResubscribeBackoffMin != nil {
		c.Service.ResubscribeBackoffMin = f.Service.ResubscribeBackoffMin
	}
	if f.Service.ResubscribeBackoffMax != nil {
		c.Service.ResubscribeBackoffMax = f.Service.ResubscribeBackoffMax
	}
}

func ptr[T any](t T) *T {
	return &t
}
