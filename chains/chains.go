// Package chains holds the chain-agnostic primitives shared by the light
// client service layer: chain identities, block hashes, headers and the
// subscription contract used by every upstream stream.
package chains

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ID is an opaque handle for one tracked chain. IDs are allocated
// monotonically for the lifetime of the process and never reused, so a
// stale ID held by the host can always be detected.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Hash is a 32-byte block or state hash.
type Hash [32]byte

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

// IsZero reports whether the hash is the all-zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashFromHex parses a 0x-prefixed (or bare) hex string into a Hash.
// Parsing is case-insensitive.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid hash length %d, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// Subscription represents an upstream event stream. The engine implements
// this for every stream it hands out; Unsubscribe must be idempotent.
type Subscription interface {
	// Unsubscribe cancels the stream and releases associated resources.
	Unsubscribe()
	// Err returns a channel that receives the terminal error of the
	// stream, if any. It is never closed with a pending event unread.
	Err() <-chan error
}
