// Package engine declares the surface of the external synchronization and
// networking subsystem consumed by the service layer. The engine verifies
// blocks and proofs; this package only names what the dispatcher calls.
package engine

import (
	"context"
	"errors"

	"github.com/Daanvdplas/Smoldot/chains"
)

var (
	// ErrBlockPruned is returned when the referenced block is no longer
	// obtainable because the engine pruned it.
	ErrBlockPruned = errors.New("engine: block pruned")
	// ErrUnavailable is returned when the engine could not produce a
	// result for a transient reason (no peers, proof unobtainable).
	ErrUnavailable = errors.New("engine: result unavailable")
)

// Engine is one chain's handle into the sync/network subsystem. All calls
// are proof-verified by the engine before they return. Streams end when
// their Subscription is unsubscribed or the engine is closed.
type Engine interface {
	// BestBlocks streams the chain's best (latest, possibly unfinalized)
	// headers in the order the engine accepts them.
	BestBlocks(ctx context.Context) (<-chan chains.Header, chains.Subscription, error)
	// FinalizedBlocks streams finalized headers in finalization order.
	FinalizedBlocks(ctx context.Context) (<-chan chains.Header, chains.Subscription, error)
	// RuntimeVersions streams the runtime version at the best block,
	// emitting once on subscribe and then on every change.
	RuntimeVersions(ctx context.Context) (<-chan chains.RuntimeVersion, chains.Subscription, error)
	// StorageChanges streams modifications to the watched keys.
	StorageChanges(ctx context.Context, keys [][]byte) (<-chan chains.StorageChange, chains.Subscription, error)

	// Header fetches the header of a specific block.
	Header(ctx context.Context, block chains.Hash) (chains.Header, error)
	// QueryStorage reads one storage key at a block, proof-verified.
	QueryStorage(ctx context.Context, block chains.Hash, key []byte) ([]byte, error)
	// CallRuntime executes a runtime entry point at a block.
	CallRuntime(ctx context.Context, block chains.Hash, method string, args []byte) ([]byte, error)
	// RuntimeVersion reports the runtime version active at a block.
	RuntimeVersion(ctx context.Context, block chains.Hash) (chains.RuntimeVersion, error)

	// SubmitTransaction validates and broadcasts a transaction, returning
	// its hash.
	SubmitTransaction(ctx context.Context, tx []byte) (chains.Hash, error)
	// SubmitAndWatchTransaction broadcasts a transaction and streams its
	// status until a terminal stage.
	SubmitAndWatchTransaction(ctx context.Context, tx []byte) (<-chan chains.TransactionStatus, chains.Subscription, error)

	// Close tears the engine down, cancelling all streams and in-flight
	// calls.
	Close() error
}

// Factory constructs the engine handle for a newly added chain. A returned
// error must leave no residual state.
type Factory func(ctx context.Context, spec *chains.Spec, caps Capabilities) (Engine, error)
