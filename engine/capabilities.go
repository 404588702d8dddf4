package engine

import (
	"context"
	"crypto/rand"
	"net"
	"time"
)

// Capabilities is the platform boundary handed to engine constructors:
// time, delay, randomness and outbound connectivity. The service core
// consumes it, it never implements platform I/O itself.
type Capabilities struct {
	// Now is a monotonic-friendly time source.
	Now func() time.Time
	// Sleep suspends until the duration elapses or ctx is cancelled.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand fills p with cryptographically secure random bytes.
	Rand func(p []byte) error
	// Dial establishes an outbound connection for the engine's
	// networking stack.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultCapabilities wires the boundary to the standard platform sources.
func DefaultCapabilities() Capabilities {
	var dialer net.Dialer
	return Capabilities{
		Now: time.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		Rand: func(p []byte) error {
			_, err := rand.Read(p)
			return err
		},
		Dial: dialer.DialContext,
	}
}
