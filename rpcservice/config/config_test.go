package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	commonconfig "github.com/smartcontractkit/chainlink-common/pkg/config"
)

func TestNewDefault(t *testing.T) {
	t.Parallel()
	cfg := NewDefault()
	assert.Equal(t, uint32(16), cfg.MaxConcurrentRequests())
	assert.Equal(t, uint32(64), cfg.MaxSubscriptions())
	assert.Equal(t, uint32(64), cfg.SubscriptionQueueSize())
	assert.Equal(t, uint32(256), cfg.ResponseQueueSize())
	assert.Equal(t, uint32(32), cfg.CacheCapacity())
	assert.Equal(t, time.Second, cfg.ResubscribeBackoffMin())
	assert.Equal(t, 15*time.Second, cfg.ResubscribeBackoffMax())
}

func TestSetFrom(t *testing.T) {
	t.Parallel()
	cfg := NewDefault()

	four := uint32(4)
	cfg.SetFrom(&ServiceConfig{Service{
		MaxConcurrentRequests: &four,
		ResubscribeBackoffMin: commonconfig.MustNewDuration(100 * time.Millisecond),
	}})

	assert.Equal(t, uint32(4), cfg.MaxConcurrentRequests())
	assert.Equal(t, 100*time.Millisecond, cfg.ResubscribeBackoffMin())
	// Untouched fields keep their defaults.
	assert.Equal(t, uint32(64), cfg.MaxSubscriptions())
	assert.Equal(t, 15*time.Second, cfg.ResubscribeBackoffMax())
}
